package models

import (
	"fmt"
	"time"
)

// AlertStatus 报警状态标签
type AlertStatus string

const (
	AlertInactive AlertStatus = "inactive"
	AlertActive   AlertStatus = "active"
	AlertCleared  AlertStatus = "cleared"
)

// AlertState 报警状态（带标签的变体）
//   - Inactive
//   - Active(Since, CooldownUntil)
//   - Cleared(ClearedAt)
//
// Version 由存储层维护，每次成功的条件更新 +1，用于 CAS。
type AlertState struct {
	Status        AlertStatus `json:"status"`
	Since         time.Time   `json:"since,omitempty"`
	CooldownUntil time.Time   `json:"cooldown_until,omitempty"`
	ClearedAt     time.Time   `json:"cleared_at,omitempty"`
	Version       int64       `json:"version"`
}

// InactiveState 构建 Inactive 状态
func InactiveState() AlertState {
	return AlertState{Status: AlertInactive}
}

// ActiveState 构建 Active 状态
func ActiveState(since, cooldownUntil time.Time) AlertState {
	return AlertState{Status: AlertActive, Since: since, CooldownUntil: cooldownUntil}
}

// ClearedState 构建 Cleared 状态
func ClearedState(at time.Time) AlertState {
	return AlertState{Status: AlertCleared, ClearedAt: at}
}

// IsActive 是否处于 Active
func (s AlertState) IsActive() bool {
	return s.Status == AlertActive
}

// Normalize 空标签视为 Inactive，并清掉与标签无关的字段
func (s AlertState) Normalize() AlertState {
	switch s.Status {
	case AlertActive:
		return AlertState{Status: AlertActive, Since: s.Since, CooldownUntil: s.CooldownUntil, Version: s.Version}
	case AlertCleared:
		return AlertState{Status: AlertCleared, ClearedAt: s.ClearedAt, Version: s.Version}
	default:
		return AlertState{Status: AlertInactive, Version: s.Version}
	}
}

// ParseAlertStatus 解析存储中的状态字符串
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch AlertStatus(s) {
	case AlertInactive, AlertActive, AlertCleared:
		return AlertStatus(s), nil
	case "":
		return AlertInactive, nil
	default:
		return "", fmt.Errorf("unknown alert status: %q", s)
	}
}

func (s AlertState) String() string {
	switch s.Status {
	case AlertActive:
		return fmt.Sprintf("active(since=%s, cooldown_until=%s)", s.Since.Format(time.RFC3339), s.CooldownUntil.Format(time.RFC3339))
	case AlertCleared:
		return fmt.Sprintf("cleared(at=%s)", s.ClearedAt.Format(time.RFC3339))
	default:
		return "inactive"
	}
}
