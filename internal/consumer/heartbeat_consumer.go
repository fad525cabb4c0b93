package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqttcommon "wisefido-liveness/common/mqtt"
	"wisefido-liveness/internal/models"
	"wisefido-liveness/internal/repository"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// HeartbeatStore 心跳写入
type HeartbeatStore interface {
	UpdateHeartbeat(ctx context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error
}

// HeartbeatConsumer MQTT 心跳消费者
// 主题格式: liveness/{subject_id}/heartbeat
type HeartbeatConsumer struct {
	subscriber   Subscriber
	store        HeartbeatStore
	topic        string
	qos          byte
	storeTimeout time.Duration
	clock        func() time.Time
	logger       *zap.Logger
}

// NewHeartbeatConsumer 创建心跳消费者
func NewHeartbeatConsumer(
	subscriber Subscriber,
	store HeartbeatStore,
	topic string,
	qos byte,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *HeartbeatConsumer {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &HeartbeatConsumer{
		subscriber:   subscriber,
		store:        store,
		topic:        topic,
		qos:          qos,
		storeTimeout: storeTimeout,
		clock:        time.Now,
		logger:       logger,
	}
}

// Start 订阅心跳主题并阻塞到 ctx 取消
func (c *HeartbeatConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to heartbeat topic: %w", err)
	}

	c.logger.Info("Heartbeat consumer started",
		zap.String("topic", c.topic),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *HeartbeatConsumer) Stop() error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("Heartbeat consumer stopped")
	return nil
}

// handleMessage 处理一条心跳消息
// 未知对象和存储失败只记录日志后丢弃，下一次心跳会再次写入。
func (c *HeartbeatConsumer) handleMessage(topic string, payload []byte) error {
	received := c.clock().UTC()

	// 1. 从主题中提取 subject_id
	subjectID, err := subjectFromTopic(topic)
	if err != nil {
		return err
	}

	// 2. 解析消息（空 payload 视为接收时间的 periodic 心跳）
	var hb models.HeartbeatPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &hb); err != nil {
			return fmt.Errorf("failed to unmarshal heartbeat: %w", err)
		}
	}
	at := hb.At(received)
	kind := models.ParseHeartbeatKind(hb.Kind)

	// 3. 写入存储
	ctx, cancel := context.WithTimeout(context.Background(), c.storeTimeout)
	defer cancel()

	if err := c.store.UpdateHeartbeat(ctx, subjectID, at, kind); err != nil {
		if errors.Is(err, repository.ErrSubjectNotFound) {
			c.logger.Warn("Heartbeat for unknown subject dropped",
				zap.String("subject_id", subjectID),
			)
			return nil
		}
		return fmt.Errorf("failed to update heartbeat for %s: %w", subjectID, err)
	}

	c.logger.Debug("Heartbeat recorded",
		zap.String("subject_id", subjectID),
		zap.Time("at", at),
		zap.String("kind", string(kind)),
	)
	return nil
}

func subjectFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}
