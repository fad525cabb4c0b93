package alert

import (
	"time"

	"wisefido-liveness/internal/models"
)

// Outcome 单个监护对象一次评估的结果
type Outcome string

const (
	OutcomeFresh        Outcome = "fresh"        // 未超时，状态无需变化
	OutcomeCleared      Outcome = "cleared"      // Active/Cleared -> Inactive
	OutcomeRaised       Outcome = "raised"       // -> Active，并发送通知
	OutcomeSuppressed   Outcome = "suppressed"   // 超时但处于 quiet hours
	OutcomeInCooldown   Outcome = "in_cooldown"  // 已报警，冷却中
	OutcomeAcknowledged Outcome = "acknowledged" // 已确认，冷却中
	OutcomeConflict     Outcome = "conflict"     // CAS 失败，其它 sweep 已处理
)

// Action Decide 的结果
type Action struct {
	Outcome Outcome
	Next    models.AlertState
	// Notify 非空时需要发送该类型的通知
	Notify models.AlertMessageType
}

// Transition 是否需要写入新的报警状态
func (a Action) Transition() bool {
	return a.Outcome == OutcomeRaised || a.Outcome == OutcomeCleared
}

// Decide 根据当前报警状态、staleness 和 quiet hours 结果计算下一状态
// settings 必须已经填充默认值；quiet 只在超时分支中使用。
func Decide(state models.AlertState, staleness time.Duration, settings models.MonitorSettings, quiet bool, now time.Time) Action {
	state = state.Normalize()

	if staleness < settings.AlertThreshold {
		switch state.Status {
		case models.AlertActive:
			return Action{Outcome: OutcomeCleared, Next: models.InactiveState(), Notify: models.AlertMessageRecovered}
		case models.AlertCleared:
			return Action{Outcome: OutcomeCleared, Next: models.InactiveState()}
		default:
			return Action{Outcome: OutcomeFresh, Next: state}
		}
	}

	if quiet {
		return Action{Outcome: OutcomeSuppressed, Next: state}
	}

	switch state.Status {
	case models.AlertActive:
		if now.Before(state.CooldownUntil) {
			return Action{Outcome: OutcomeInCooldown, Next: state}
		}
	case models.AlertCleared:
		if now.Before(state.ClearedAt.Add(settings.Cooldown)) {
			return Action{Outcome: OutcomeAcknowledged, Next: state}
		}
	}

	return Action{
		Outcome: OutcomeRaised,
		Next:    models.ActiveState(now, now.Add(settings.Cooldown)),
		Notify:  models.AlertMessageStale,
	}
}
