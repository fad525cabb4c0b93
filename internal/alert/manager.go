// Package alert 实现报警生命周期：Inactive -> Active -> Cleared/Inactive。
//
// 状态写入全部是条件更新（alert_version + 读取时的 last_heartbeat_at），
// 并发的 sweep 只有一个能提交；提交成功后才发送通知。
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-liveness/internal/dispatcher"
	"wisefido-liveness/internal/models"
	"wisefido-liveness/internal/quiethours"
	"wisefido-liveness/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotActive 确认报警时报警不处于 Active
var ErrNotActive = errors.New("alert is not active")

// Notifier 通知扇出（dispatcher.Dispatcher 实现）
type Notifier interface {
	Dispatch(ctx context.Context, subject *models.Subject, msg models.AlertMessage) (dispatcher.Result, error)
}

// EventRecorder 报警事件历史
type EventRecorder interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// AuditPublisher 报警审计流
type AuditPublisher interface {
	PublishAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// DefaultStoreTimeout 单次存储调用（状态 CAS、事件记录、审计发布）的超时
const DefaultStoreTimeout = 5 * time.Second

// Manager 报警生命周期管理
type Manager struct {
	repo         repository.SubjectRepository
	notifier     Notifier
	events       EventRecorder  // 可为 nil
	audit        AuditPublisher // 可为 nil
	defaults     models.MonitorSettings
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewManager 创建报警生命周期管理器
func NewManager(
	repo repository.SubjectRepository,
	notifier Notifier,
	events EventRecorder,
	audit AuditPublisher,
	defaults models.MonitorSettings,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		repo:         repo,
		notifier:     notifier,
		events:       events,
		audit:        audit,
		defaults:     defaults.WithDefaults(models.DefaultMonitorSettings()),
		storeTimeout: DefaultStoreTimeout,
		logger:       logger,
	}
}

// WithStoreTimeout 设置单次存储调用超时，<=0 时保持默认值
func (m *Manager) WithStoreTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.storeTimeout = d
	}
	return m
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.storeTimeout)
}

// Settings 返回 subject 填充默认值后的配置
func (m *Manager) Settings(subject *models.Subject) models.MonitorSettings {
	return subject.Settings.WithDefaults(m.defaults)
}

// Evaluate 根据 staleness 调用 OnFresh 或 OnStale
func (m *Manager) Evaluate(ctx context.Context, subject *models.Subject, now time.Time) (Outcome, error) {
	if subject.Staleness(now) < m.Settings(subject).AlertThreshold {
		return m.OnFresh(ctx, subject, now)
	}
	return m.OnStale(ctx, subject, now)
}

// OnFresh 心跳新鲜：Active/Cleared 无条件回到 Inactive（不看 quiet hours）
// 从 Active 恢复时发送恢复通知。
func (m *Manager) OnFresh(ctx context.Context, subject *models.Subject, now time.Time) (Outcome, error) {
	action := Decide(subject.AlertState, subject.Staleness(now), m.Settings(subject), false, now)
	return m.apply(ctx, subject, action, now)
}

// OnStale 心跳超时：quiet hours 内不产生新报警；已报警且在冷却期内不重复发送
// quiet hours 不会回溯清除已存在的报警。
func (m *Manager) OnStale(ctx context.Context, subject *models.Subject, now time.Time) (Outcome, error) {
	quiet := quiethours.IsQuiet(now, subject.QuietHours)
	action := Decide(subject.AlertState, subject.Staleness(now), m.Settings(subject), quiet, now)
	return m.apply(ctx, subject, action, now)
}

func (m *Manager) apply(ctx context.Context, subject *models.Subject, action Action, now time.Time) (Outcome, error) {
	logger := m.logger.With(
		zap.String("subject_id", subject.SubjectID),
		zap.Duration("staleness", subject.Staleness(now)),
		zap.String("state", subject.AlertState.String()),
	)

	switch action.Outcome {
	case OutcomeFresh:
		return action.Outcome, nil
	case OutcomeSuppressed:
		logger.Info("Alert suppressed, in quiet period")
		return action.Outcome, nil
	case OutcomeInCooldown:
		logger.Debug("Already alerted, in cooldown")
		return action.Outcome, nil
	case OutcomeAcknowledged:
		logger.Debug("Alert acknowledged, in cooldown")
		return action.Outcome, nil
	}

	storeCtx, cancel := m.storeCtx(ctx)
	committed, err := m.repo.UpdateAlertState(storeCtx, repository.AlertTransition{
		SubjectID:           subject.SubjectID,
		Expected:            subject.AlertState,
		ObservedHeartbeatAt: subject.LastHeartbeatAt,
		Next:                action.Next,
	})
	cancel()
	if errors.Is(err, repository.ErrConflict) {
		logger.Debug("Alert state changed concurrently, skipping")
		return OutcomeConflict, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to update alert state: %w", err)
	}
	prev := subject.AlertState
	subject.AlertState = committed

	logger.Info("Alert state changed",
		zap.String("outcome", string(action.Outcome)),
		zap.String("next", committed.String()),
	)

	if action.Notify != "" {
		m.notify(ctx, subject, action.Notify, prev, now)
	}
	return action.Outcome, nil
}

// notify 发送通知并记录事件；失败不回滚状态
func (m *Manager) notify(ctx context.Context, subject *models.Subject, msgType models.AlertMessageType, prev models.AlertState, now time.Time) {
	settings := m.Settings(subject)
	staleness := subject.Staleness(now)

	msg := models.AlertMessage{
		AlertID:         uuid.New().String(),
		SubjectID:       subject.SubjectID,
		TenantID:        subject.TenantID,
		Type:            msgType,
		LastHeartbeatAt: subject.LastHeartbeatAt,
		StalenessSec:    int64(staleness / time.Second),
		ThresholdSec:    int64(settings.AlertThreshold / time.Second),
		OccurredAt:      now,
		Text:            messageText(msgType, staleness, prev),
	}

	result, err := m.notifier.Dispatch(ctx, subject, msg)
	if err != nil {
		m.logger.Warn("Alert notification not delivered",
			zap.String("subject_id", subject.SubjectID),
			zap.String("alert_id", msg.AlertID),
			zap.Error(err),
		)
	}

	event := &models.AlertEvent{
		EventID:        uuid.New().String(),
		AlertID:        msg.AlertID,
		SubjectID:      subject.SubjectID,
		TenantID:       subject.TenantID,
		EventType:      msgType,
		TriggeredAt:    now,
		StalenessSec:   msg.StalenessSec,
		NotifiedOK:     result.Succeeded,
		NotifiedFailed: result.Failed,
	}
	if m.events != nil {
		if err := m.recordEvent(ctx, event); err != nil {
			m.logger.Warn("Failed to record alert event",
				zap.String("subject_id", subject.SubjectID),
				zap.Error(err),
			)
		}
	}
	if m.audit != nil {
		if err := m.publishEvent(ctx, event); err != nil {
			m.logger.Warn("Failed to publish alert event",
				zap.String("subject_id", subject.SubjectID),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) recordEvent(ctx context.Context, event *models.AlertEvent) error {
	storeCtx, cancel := m.storeCtx(ctx)
	defer cancel()
	return m.events.CreateAlertEvent(storeCtx, event)
}

func (m *Manager) publishEvent(ctx context.Context, event *models.AlertEvent) error {
	storeCtx, cancel := m.storeCtx(ctx)
	defer cancel()
	return m.audit.PublishAlertEvent(storeCtx, event)
}

// Acknowledge 操作员确认报警：Active -> Cleared(now)
func (m *Manager) Acknowledge(ctx context.Context, subjectID string, now time.Time) (models.AlertState, error) {
	storeCtx, cancel := m.storeCtx(ctx)
	defer cancel()

	subject, err := m.repo.GetSubject(storeCtx, subjectID)
	if err != nil {
		return models.AlertState{}, err
	}
	if !subject.AlertState.IsActive() {
		return subject.AlertState, ErrNotActive
	}

	committed, err := m.repo.UpdateAlertState(storeCtx, repository.AlertTransition{
		SubjectID:           subject.SubjectID,
		Expected:            subject.AlertState,
		ObservedHeartbeatAt: subject.LastHeartbeatAt,
		Next:                models.ClearedState(now),
	})
	if err != nil {
		return models.AlertState{}, err
	}

	m.logger.Info("Alert acknowledged",
		zap.String("subject_id", subjectID),
		zap.Time("cleared_at", now),
	)
	return committed, nil
}

func messageText(t models.AlertMessageType, staleness time.Duration, prev models.AlertState) string {
	if t == models.AlertMessageRecovered {
		return fmt.Sprintf("Activity resumed; alert raised at %s is cleared", prev.Since.Format(time.RFC3339))
	}
	return fmt.Sprintf("No activity for %s", staleness.Truncate(time.Minute))
}
