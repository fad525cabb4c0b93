package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-liveness/internal/models"
)

// Publisher MQTT 发布能力（owl-common mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSender 通过 MQTT 推送到家属端 App（mqtt:<family-id>）
type MQTTSender struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
}

// NewMQTTSender 创建 MQTT 发送器，topic = topicPrefix + target
func NewMQTTSender(publisher Publisher, topicPrefix string, qos byte) *MQTTSender {
	return &MQTTSender{
		publisher:   publisher,
		topicPrefix: topicPrefix,
		qos:         qos,
	}
}

// Send 实现 Sender
func (s *MQTTSender) Send(ctx context.Context, endpointID, _ string, msg models.AlertMessage) error {
	_, target := SplitEndpoint(endpointID)
	if target == "" {
		return fmt.Errorf("%w: empty mqtt target", ErrUnsupportedEndpoint)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}
	return s.publisher.Publish(s.topicPrefix+target, s.qos, false, payload)
}
