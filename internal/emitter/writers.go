package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-liveness/internal/models"

	"github.com/go-resty/resty/v2"
)

// HeartbeatPath 服务端心跳接收接口
const HeartbeatPath = "/liveness/api/v1/heartbeat"

// Publisher MQTT 发布能力
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTHeartbeatWriter 通过 MQTT 上报心跳
type MQTTHeartbeatWriter struct {
	publisher   Publisher
	topicFormat string // 例如 liveness/%s/heartbeat
	qos         byte
}

// NewMQTTHeartbeatWriter 创建 MQTT 心跳写入器
func NewMQTTHeartbeatWriter(publisher Publisher, topicFormat string, qos byte) *MQTTHeartbeatWriter {
	return &MQTTHeartbeatWriter{
		publisher:   publisher,
		topicFormat: topicFormat,
		qos:         qos,
	}
}

// UpdateHeartbeat 实现 HeartbeatWriter
func (w *MQTTHeartbeatWriter) UpdateHeartbeat(ctx context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(models.HeartbeatPayload{
		Timestamp: at.Unix(),
		Kind:      string(kind),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}
	return w.publisher.Publish(fmt.Sprintf(w.topicFormat, subjectID), w.qos, false, payload)
}

// apiResult 服务端统一响应（只关心 code / message）
type apiResult struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HTTPHeartbeatWriter 通过 HTTP 上报心跳，不做重试
type HTTPHeartbeatWriter struct {
	httpClient *resty.Client
}

// NewHTTPHeartbeatWriter 创建 HTTP 心跳写入器
func NewHTTPHeartbeatWriter(baseURL string, timeout time.Duration) *HTTPHeartbeatWriter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPHeartbeatWriter{httpClient: client}
}

// UpdateHeartbeat 实现 HeartbeatWriter
func (w *HTTPHeartbeatWriter) UpdateHeartbeat(ctx context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error {
	var result apiResult
	resp, err := w.httpClient.R().
		SetContext(ctx).
		SetBody(models.NewHeartbeatPayload(subjectID, at, kind)).
		SetResult(&result).
		SetError(&result).
		Post(HeartbeatPath)
	if err != nil {
		return fmt.Errorf("failed to post heartbeat: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("heartbeat rejected: status %d: %s", resp.StatusCode(), result.Message)
	}
	return nil
}
