// Package emitter 实现监护对象端的心跳上报策略。
//
// 是否写入只取决于距上次写入的时长和 force 标志，从不读取 quiet hours：
// quiet hours 只影响是否报警，不影响数据新鲜度。
package emitter

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-liveness/internal/models"

	"go.uber.org/zap"
)

// ErrEmptySubjectID subject_id 为空
var ErrEmptySubjectID = errors.New("subject_id is required")

// HeartbeatWriter 心跳写入目标（存储、MQTT、HTTP）
type HeartbeatWriter interface {
	UpdateHeartbeat(ctx context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error
}

// Options 上报策略参数，零值使用默认值
type Options struct {
	MinRefreshInterval   time.Duration
	LongSilenceThreshold time.Duration
	WriteTimeout         time.Duration
	Clock                func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MinRefreshInterval <= 0 {
		o.MinRefreshInterval = models.DefaultMinRefreshInterval
	}
	if o.LongSilenceThreshold <= 0 {
		o.LongSilenceThreshold = models.DefaultLongSilenceThreshold
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Decision 单次活动的上报决策
type Decision struct {
	Write bool
	Kind  models.HeartbeatKind
}

// Stats 上报统计
type Stats struct {
	Writes   int
	Failures int
	Deferred int
}

// HeartbeatEmitter 心跳上报器（每个监护对象一个）
type HeartbeatEmitter struct {
	subjectID string
	writer    HeartbeatWriter
	opts      Options
	logger    *zap.Logger

	mu            sync.Mutex
	attempted     bool
	lastAttemptAt time.Time // 最近一次尝试写入（含失败）
	lastWriteAt   time.Time // 最近一次成功写入
	stats         Stats
}

// NewHeartbeatEmitter 创建心跳上报器
func NewHeartbeatEmitter(subjectID string, writer HeartbeatWriter, opts Options, logger *zap.Logger) (*HeartbeatEmitter, error) {
	if subjectID == "" {
		return nil, ErrEmptySubjectID
	}
	return &HeartbeatEmitter{
		subjectID: subjectID,
		writer:    writer,
		opts:      opts.withDefaults(),
		logger:    logger,
	}, nil
}

// decide 计算上报决策，调用方持有 e.mu
func (e *HeartbeatEmitter) decide(now time.Time, force bool) Decision {
	kind := models.HeartbeatPeriodic
	sinceWrite := now.Sub(e.lastWriteAt)
	switch {
	case e.lastWriteAt.IsZero():
		kind = models.HeartbeatFirstContact
	case sinceWrite >= e.opts.LongSilenceThreshold:
		kind = models.HeartbeatResumed
	}

	switch {
	case force, !e.attempted:
		return Decision{Write: true, Kind: kind}
	case kind == models.HeartbeatResumed && !e.lastAttemptAt.After(e.lastWriteAt):
		// 上一次尝试失败时，Resumed 同样受 minRefresh 限制
		return Decision{Write: true, Kind: kind}
	case now.Sub(e.lastAttemptAt) >= e.opts.MinRefreshInterval:
		return Decision{Write: true, Kind: kind}
	}
	return Decision{Write: false, Kind: kind}
}

// RecordActivity 记录一次本地活动，按策略决定是否立即写入心跳
// 写入失败只记录日志，不在此重试；下一次满足条件的活动会再次尝试。
func (e *HeartbeatEmitter) RecordActivity(ctx context.Context, forceImmediate bool) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.opts.Clock()
	d := e.decide(now, forceImmediate)
	if !d.Write {
		e.stats.Deferred++
		e.logger.Debug("Heartbeat deferred",
			zap.String("subject_id", e.subjectID),
			zap.Duration("since_last_write", now.Sub(e.lastWriteAt)),
		)
		return d, nil
	}

	e.attempted = true
	e.lastAttemptAt = now

	writeCtx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()

	if err := e.writer.UpdateHeartbeat(writeCtx, e.subjectID, now, d.Kind); err != nil {
		e.stats.Failures++
		e.logger.Warn("Failed to write heartbeat",
			zap.String("subject_id", e.subjectID),
			zap.String("kind", string(d.Kind)),
			zap.Error(err),
		)
		return d, err
	}

	e.lastWriteAt = now
	e.stats.Writes++
	e.logger.Debug("Heartbeat written",
		zap.String("subject_id", e.subjectID),
		zap.String("kind", string(d.Kind)),
		zap.Bool("forced", forceImmediate),
	)
	return d, nil
}

// LastWriteAt 最近一次成功写入时间
func (e *HeartbeatEmitter) LastWriteAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastWriteAt
}

// Stats 返回上报统计
func (e *HeartbeatEmitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run 按 interval 周期性记录活动，直到 ctx 取消
func (e *HeartbeatEmitter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Heartbeat emitter started",
		zap.String("subject_id", e.subjectID),
		zap.Duration("interval", interval),
		zap.Duration("min_refresh_interval", e.opts.MinRefreshInterval),
		zap.Duration("long_silence_threshold", e.opts.LongSilenceThreshold),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Heartbeat emitter stopped", zap.String("subject_id", e.subjectID))
			return
		case <-ticker.C:
			_, _ = e.RecordActivity(ctx, false)
		}
	}
}
