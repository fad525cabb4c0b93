// Package sweep 周期性扫描所有启用监护的对象，计算 staleness 并驱动报警状态机。
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-liveness/internal/alert"
	"wisefido-liveness/internal/models"
	"wisefido-liveness/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Evaluator 单个监护对象的报警评估（alert.Manager 实现）
type Evaluator interface {
	Evaluate(ctx context.Context, subject *models.Subject, now time.Time) (alert.Outcome, error)
}

// SubjectLister 分页读取启用监护的对象
type SubjectLister interface {
	ListMonitoredSubjects(ctx context.Context, filter repository.SubjectFilter) ([]models.Subject, error)
}

// Config 扫描参数
type Config struct {
	Interval         time.Duration // tick 周期，同时是单次 tick 的截止时间
	Workers          int
	PageSize         int
	StoreTimeout     time.Duration
	DefaultThreshold time.Duration
	TenantID         string // 可选
}

// Summary 一次 tick 的统计
type Summary struct {
	Checked      int           `json:"checked"`
	Raised       int           `json:"raised"`
	Suppressed   int           `json:"suppressed"`
	InCooldown   int           `json:"in_cooldown"`
	Acknowledged int           `json:"acknowledged"`
	Cleared      int           `json:"cleared"`
	Conflicts    int           `json:"conflicts"`
	Failed       int           `json:"failed"`
	Pages        int           `json:"pages"`
	Truncated    bool          `json:"truncated"` // 超过截止时间，剩余对象留到下一次 tick
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

func (s *Summary) add(outcome alert.Outcome) {
	s.Checked++
	switch outcome {
	case alert.OutcomeRaised:
		s.Raised++
	case alert.OutcomeSuppressed:
		s.Suppressed++
	case alert.OutcomeInCooldown:
		s.InCooldown++
	case alert.OutcomeAcknowledged:
		s.Acknowledged++
	case alert.OutcomeCleared:
		s.Cleared++
	case alert.OutcomeConflict:
		s.Conflicts++
	}
}

// Scheduler 过期扫描调度器
// RunSweepTick 可被并发调用（内部 ticker 与外部触发重叠），状态转换由 CAS 保证只提交一次。
type Scheduler struct {
	lister    SubjectLister
	evaluator Evaluator
	cfg       Config
	clock     func() time.Time
	logger    *zap.Logger
}

// NewScheduler 创建扫描调度器
func NewScheduler(lister SubjectLister, evaluator Evaluator, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = models.DefaultAlertThreshold
	}
	return &Scheduler{
		lister:    lister,
		evaluator: evaluator,
		cfg:       cfg,
		clock:     time.Now,
		logger:    logger,
	}
}

// WithClock 替换时钟（测试用）
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Start 启动周期扫描，直到 ctx 取消
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Stale sweep scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("page_size", s.cfg.PageSize),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// 立即执行一次
	if _, err := s.RunSweepTick(ctx); err != nil {
		s.logger.Error("Sweep tick failed on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stale sweep scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunSweepTick(ctx); err != nil {
				s.logger.Error("Sweep tick failed", zap.Error(err))
				// 继续执行，下一个 tick 重试
			}
		}
	}
}

// RunSweepTick 执行一次扫描
// 按 due_at 升序分页，最可能过期的对象优先；单个对象失败不影响其它对象。
// 读取页失败时放弃本次 tick 并返回错误。
func (s *Scheduler) RunSweepTick(ctx context.Context) (Summary, error) {
	now := s.clock()
	summary := Summary{StartedAt: now}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()

	var (
		mu     sync.Mutex
		cursor *repository.Cursor
	)

	for {
		if tickCtx.Err() != nil {
			break
		}

		page, err := s.listPage(tickCtx, cursor)
		if err != nil {
			if tickCtx.Err() != nil && ctx.Err() == nil {
				break
			}
			summary.Duration = time.Since(now)
			return summary, fmt.Errorf("failed to list monitored subjects: %w", err)
		}
		if len(page) == 0 {
			break
		}
		summary.Pages++

		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for i := range page {
			subject := &page[i]
			if tickCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				outcome, err := s.evaluateOne(tickCtx, subject, now)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					summary.Checked++
					summary.Failed++
					return nil
				}
				summary.add(outcome)
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < s.cfg.PageSize {
			break
		}
		next := repository.CursorOf(&page[len(page)-1], s.cfg.DefaultThreshold)
		cursor = &next
	}

	if tickCtx.Err() != nil {
		if ctx.Err() != nil {
			summary.Duration = time.Since(now)
			return summary, ctx.Err()
		}
		summary.Truncated = true
		s.logger.Warn("Sweep tick deadline reached, remaining subjects deferred to next tick",
			zap.Int("checked", summary.Checked),
		)
	}

	summary.Duration = time.Since(now)
	s.logger.Info("Sweep tick completed",
		zap.Int("checked", summary.Checked),
		zap.Int("raised", summary.Raised),
		zap.Int("suppressed", summary.Suppressed),
		zap.Int("in_cooldown", summary.InCooldown),
		zap.Int("acknowledged", summary.Acknowledged),
		zap.Int("cleared", summary.Cleared),
		zap.Int("conflicts", summary.Conflicts),
		zap.Int("failed", summary.Failed),
		zap.Int("pages", summary.Pages),
		zap.Bool("truncated", summary.Truncated),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (s *Scheduler) listPage(ctx context.Context, after *repository.Cursor) ([]models.Subject, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	return s.lister.ListMonitoredSubjects(listCtx, repository.SubjectFilter{
		TenantID:         s.cfg.TenantID,
		After:            after,
		Limit:            s.cfg.PageSize,
		DefaultThreshold: s.cfg.DefaultThreshold,
	})
}

func (s *Scheduler) evaluateOne(ctx context.Context, subject *models.Subject, now time.Time) (outcome alert.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluate panic: %v", r)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Failed to evaluate subject",
				zap.String("subject_id", subject.SubjectID),
				zap.Error(err),
			)
		}
	}()

	return s.evaluator.Evaluate(ctx, subject, now)
}
