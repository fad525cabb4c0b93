package models

import (
	"fmt"
	"time"
)

// HeartbeatKind 心跳类型（仅用于记录，不影响报警逻辑）
type HeartbeatKind string

const (
	HeartbeatFirstContact HeartbeatKind = "first_contact"
	HeartbeatResumed      HeartbeatKind = "resumed"
	HeartbeatPeriodic     HeartbeatKind = "periodic"
)

// ParseHeartbeatKind 解析心跳类型，未知值按 periodic 处理
func ParseHeartbeatKind(s string) HeartbeatKind {
	switch HeartbeatKind(s) {
	case HeartbeatFirstContact, HeartbeatResumed:
		return HeartbeatKind(s)
	default:
		return HeartbeatPeriodic
	}
}

// 默认配置
const (
	DefaultAlertThreshold       = 12 * time.Hour
	DefaultCooldown             = 6 * time.Hour
	DefaultMinRefreshInterval   = 15 * time.Minute
	DefaultLongSilenceThreshold = 8 * time.Hour
)

// MonitorSettings 单个监护对象的可覆盖配置，零值表示使用默认值
type MonitorSettings struct {
	AlertThreshold       time.Duration `json:"alert_threshold"`
	Cooldown             time.Duration `json:"cooldown"`
	MinRefreshInterval   time.Duration `json:"min_refresh_interval"`
	LongSilenceThreshold time.Duration `json:"long_silence_threshold"`
}

// WithDefaults 用 defaults 填充未配置（<=0）的字段
func (s MonitorSettings) WithDefaults(defaults MonitorSettings) MonitorSettings {
	if s.AlertThreshold <= 0 {
		s.AlertThreshold = defaults.AlertThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = defaults.Cooldown
	}
	if s.MinRefreshInterval <= 0 {
		s.MinRefreshInterval = defaults.MinRefreshInterval
	}
	if s.LongSilenceThreshold <= 0 {
		s.LongSilenceThreshold = defaults.LongSilenceThreshold
	}
	return s
}

// DefaultMonitorSettings 系统默认配置
func DefaultMonitorSettings() MonitorSettings {
	return MonitorSettings{
		AlertThreshold:       DefaultAlertThreshold,
		Cooldown:             DefaultCooldown,
		MinRefreshInterval:   DefaultMinRefreshInterval,
		LongSilenceThreshold: DefaultLongSilenceThreshold,
	}
}

// Subject 监护对象（对应 liveness_subjects 表）
type Subject struct {
	SubjectID         string            `json:"subject_id"`
	TenantID          string            `json:"tenant_id"`
	MonitoringEnabled bool              `json:"monitoring_enabled"`
	LastHeartbeatAt   time.Time         `json:"last_heartbeat_at"`
	HeartbeatKind     HeartbeatKind     `json:"heartbeat_kind"`
	Settings          MonitorSettings   `json:"settings"`
	QuietHours        *QuietHoursConfig `json:"quiet_hours,omitempty"`
	AlertState        AlertState        `json:"alert_state"`
	Subscribers       []string          `json:"subscribers"`
}

// Staleness 距最后一次心跳的时长
func (s *Subject) Staleness(now time.Time) time.Duration {
	d := now.Sub(s.LastHeartbeatAt)
	if d < 0 {
		return 0
	}
	return d
}

// DueAt 预计变为 stale 的时间点
func (s *Subject) DueAt(threshold time.Duration) time.Time {
	return s.LastHeartbeatAt.Add(threshold)
}

// NormalizeSubscribers 去重并去掉空值，保留首次出现的顺序
func NormalizeSubscribers(endpoints []string) []string {
	seen := make(map[string]struct{}, len(endpoints))
	out := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Validate 校验必填字段
func (s *Subject) Validate() error {
	if s.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if s.LastHeartbeatAt.IsZero() {
		return fmt.Errorf("last_heartbeat_at is required")
	}
	return nil
}
