// Package dispatcher 将一条报警消息扇出到监护对象的所有订阅端点。
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-liveness/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrNoSubscribers 监护对象没有任何订阅端点
	ErrNoSubscribers = errors.New("subject has no subscribers")
	// ErrAllSendsFailed 所有端点都发送失败
	ErrAllSendsFailed = errors.New("all subscriber sends failed")
)

// Sender 单个端点的发送能力（fire-and-forget，不要求回执）
type Sender interface {
	Send(ctx context.Context, endpointID, subjectID string, msg models.AlertMessage) error
}

// Result 一次扇出的结果
type Result struct {
	Succeeded int
	Failed    int
	Failures  map[string]error // endpointID -> error
}

// Dispatcher 通知分发器
// 幂等性由上游的 cooldown 检查保证，这里不做去重。
type Dispatcher struct {
	sender      Sender
	sendTimeout time.Duration
	logger      *zap.Logger
}

// NewDispatcher 创建通知分发器
func NewDispatcher(sender Sender, sendTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		sender:      sender,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Dispatch 逐个端点发送；单个端点失败不影响其它端点
// 至少一个成功即视为成功。
func (d *Dispatcher) Dispatch(ctx context.Context, subject *models.Subject, msg models.AlertMessage) (Result, error) {
	result := Result{Failures: map[string]error{}}

	endpoints := models.NormalizeSubscribers(subject.Subscribers)
	if len(endpoints) == 0 {
		d.logger.Warn("No subscribers to notify",
			zap.String("subject_id", subject.SubjectID),
			zap.String("alert_id", msg.AlertID),
		)
		return result, ErrNoSubscribers
	}

	for _, endpoint := range endpoints {
		if err := d.sendOne(ctx, endpoint, subject.SubjectID, msg); err != nil {
			result.Failed++
			result.Failures[endpoint] = err
			d.logger.Warn("Failed to notify subscriber",
				zap.String("subject_id", subject.SubjectID),
				zap.String("alert_id", msg.AlertID),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}
		result.Succeeded++
	}

	d.logger.Info("Alert dispatched",
		zap.String("subject_id", subject.SubjectID),
		zap.String("alert_id", msg.AlertID),
		zap.String("type", string(msg.Type)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)

	if result.Succeeded == 0 {
		return result, fmt.Errorf("%w: %d endpoints", ErrAllSendsFailed, result.Failed)
	}
	return result, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, endpoint, subjectID string, msg models.AlertMessage) (err error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()

	return d.sender.Send(sendCtx, endpoint, subjectID, msg)
}
