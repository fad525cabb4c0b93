package dispatcher

import (
	"context"
	"fmt"

	rediscommon "wisefido-liveness/common/redis"
	"wisefido-liveness/internal/models"

	"github.com/go-redis/redis/v8"
)

// StreamSender 写入 Redis Streams，由推送网关消费（stream:<stream 名>）
type StreamSender struct {
	redisClient *redis.Client
}

// NewStreamSender 创建 Redis Streams 发送器
func NewStreamSender(redisClient *redis.Client) *StreamSender {
	return &StreamSender{redisClient: redisClient}
}

// streamEnvelope 写入 stream 的数据
type streamEnvelope struct {
	Endpoint string              `json:"endpoint"`
	Message  models.AlertMessage `json:"message"`
}

// Send 实现 Sender
func (s *StreamSender) Send(ctx context.Context, endpointID, _ string, msg models.AlertMessage) error {
	_, stream := SplitEndpoint(endpointID)
	if stream == "" {
		return fmt.Errorf("%w: empty stream name", ErrUnsupportedEndpoint)
	}

	if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, stream, streamEnvelope{
		Endpoint: endpointID,
		Message:  msg,
	}); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}
