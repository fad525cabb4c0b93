package alert

import (
	"context"

	rediscommon "wisefido-liveness/common/redis"
	"wisefido-liveness/internal/models"

	"github.com/go-redis/redis/v8"
)

// StreamAuditor 将报警事件写入 Redis Streams（liveness:alerts:stream）
type StreamAuditor struct {
	redisClient *redis.Client
	stream      string
}

// NewStreamAuditor 创建审计流发布器
func NewStreamAuditor(redisClient *redis.Client, stream string) *StreamAuditor {
	return &StreamAuditor{
		redisClient: redisClient,
		stream:      stream,
	}
}

// PublishAlertEvent 实现 AuditPublisher
func (a *StreamAuditor) PublishAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	_, err := rediscommon.PublishJSONToStream(ctx, a.redisClient, a.stream, event)
	return err
}
