package models

import (
	"time"
)

// AlertMessageType 通知类型
type AlertMessageType string

const (
	AlertMessageStale     AlertMessageType = "stale"
	AlertMessageRecovered AlertMessageType = "recovered"
)

// AlertMessage 推送给订阅者的报警消息
type AlertMessage struct {
	AlertID         string           `json:"alert_id"`
	SubjectID       string           `json:"subject_id"`
	TenantID        string           `json:"tenant_id,omitempty"`
	Type            AlertMessageType `json:"type"`
	LastHeartbeatAt time.Time        `json:"last_heartbeat_at"`
	StalenessSec    int64            `json:"staleness_sec"`
	ThresholdSec    int64            `json:"threshold_sec"`
	OccurredAt      time.Time        `json:"occurred_at"`
	Text            string           `json:"text"`
}

// AlertEvent 报警事件记录（对应 liveness_alert_events 表）
type AlertEvent struct {
	EventID        string           `json:"event_id" db:"event_id"`
	AlertID        string           `json:"alert_id" db:"alert_id"`
	SubjectID      string           `json:"subject_id" db:"subject_id"`
	TenantID       string           `json:"tenant_id" db:"tenant_id"`
	EventType      AlertMessageType `json:"event_type" db:"event_type"`
	TriggeredAt    time.Time        `json:"triggered_at" db:"triggered_at"`
	StalenessSec   int64            `json:"staleness_sec" db:"staleness_sec"`
	NotifiedOK     int              `json:"notified_ok" db:"notified_ok"`
	NotifiedFailed int              `json:"notified_failed" db:"notified_failed"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}
