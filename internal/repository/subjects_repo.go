package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-liveness/internal/models"
)

var (
	// ErrSubjectNotFound 监护对象不存在
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrConflict 条件更新失败（并发 sweep 已经修改过状态）
	ErrConflict = errors.New("alert state conflict")
)

// SubjectFilter 监护对象列表过滤条件
// 结果按 (due_at, subject_id) 升序返回，due_at = last_heartbeat_at + alert_threshold，
// 最可能已 stale 的对象排在前面。After 为上一页最后一条的游标。
type SubjectFilter struct {
	TenantID         string        // 可选
	After            *Cursor       // keyset 分页游标
	Limit            int           // 每页条数
	DefaultThreshold time.Duration // alert_threshold 为 0 时使用的默认阈值
}

// Cursor keyset 分页游标
type Cursor struct {
	DueAt     time.Time
	SubjectID string
}

// AlertTransition 报警状态条件更新
// 仅当存储中的 version 等于 Expected.Version 且 last_heartbeat_at 仍等于
// ObservedHeartbeatAt（即读取时计算的 staleness 在提交时依旧成立）时才会写入。
type AlertTransition struct {
	SubjectID           string
	Expected            models.AlertState
	ObservedHeartbeatAt time.Time
	Next                models.AlertState
}

// SubjectRepository 监护对象存储（LivenessStore）
type SubjectRepository interface {
	// GetSubject 根据 subject_id 获取监护对象
	GetSubject(ctx context.Context, subjectID string) (*models.Subject, error)

	// UpsertSubject 创建或更新监护对象配置（开通流程使用，不修改报警状态）
	UpsertSubject(ctx context.Context, subject *models.Subject) error

	// UpdateHeartbeat 更新最后心跳时间
	// 时间只前进：早于当前值的写入被忽略，不返回错误。
	UpdateHeartbeat(ctx context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error

	// UpdateAlertState 条件更新报警状态，返回提交后的状态（含新 version）
	// 条件不满足返回 ErrConflict。
	UpdateAlertState(ctx context.Context, t AlertTransition) (models.AlertState, error)

	// ListMonitoredSubjects 分页查询启用监护的对象
	ListMonitoredSubjects(ctx context.Context, filter SubjectFilter) ([]models.Subject, error)
}

// CursorOf 返回 subject 在列表中的游标
func CursorOf(s *models.Subject, defaultThreshold time.Duration) Cursor {
	threshold := s.Settings.AlertThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return Cursor{DueAt: s.DueAt(threshold), SubjectID: s.SubjectID}
}
