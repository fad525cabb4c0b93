package models

import (
	"time"
)

// HeartbeatPayload 心跳上报数据（MQTT payload / HTTP body 共用）
type HeartbeatPayload struct {
	SubjectID string `json:"subject_id,omitempty"` // MQTT 从 topic 取
	Timestamp int64  `json:"timestamp,omitempty"`  // unix 秒，缺省取接收时间
	Kind      string `json:"kind,omitempty"`
}

// NewHeartbeatPayload 构造心跳上报数据
func NewHeartbeatPayload(subjectID string, at time.Time, kind HeartbeatKind) HeartbeatPayload {
	return HeartbeatPayload{
		SubjectID: subjectID,
		Timestamp: at.Unix(),
		Kind:      string(kind),
	}
}

// MaxClockSkew 允许心跳时间超前接收时间的最大值
const MaxClockSkew = time.Minute

// At 返回心跳时间
// Timestamp 缺省或超前 received 超过 MaxClockSkew 时返回 received。
func (p HeartbeatPayload) At(received time.Time) time.Time {
	if p.Timestamp <= 0 {
		return received
	}
	at := time.Unix(p.Timestamp, 0).UTC()
	if at.After(received.Add(MaxClockSkew)) {
		return received
	}
	return at
}
