package alert

import (
	"testing"
	"time"

	"wisefido-liveness/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	settings := models.DefaultMonitorSettings()

	tests := []struct {
		name      string
		state     models.AlertState
		staleness time.Duration
		quiet     bool
		want      Outcome
		notify    models.AlertMessageType
	}{
		{"fresh inactive", models.InactiveState(), time.Hour, false, OutcomeFresh, ""},
		{"fresh active clears with recovery", models.ActiveState(now.Add(-time.Hour), now.Add(time.Hour)), time.Minute, true, OutcomeCleared, models.AlertMessageRecovered},
		{"fresh cleared clears silently", models.ClearedState(now.Add(-time.Hour)), time.Minute, false, OutcomeCleared, ""},
		{"exactly threshold is stale", models.InactiveState(), 12 * time.Hour, false, OutcomeRaised, models.AlertMessageStale},
		{"stale quiet suppressed", models.InactiveState(), 13 * time.Hour, true, OutcomeSuppressed, ""},
		{"stale quiet keeps active", models.ActiveState(now.Add(-7*time.Hour), now.Add(-time.Hour)), 20 * time.Hour, true, OutcomeSuppressed, ""},
		{"active in cooldown", models.ActiveState(now.Add(-time.Hour), now.Add(5*time.Hour)), 13 * time.Hour, false, OutcomeInCooldown, ""},
		{"active cooldown boundary re-raises", models.ActiveState(now.Add(-6*time.Hour), now), 18 * time.Hour, false, OutcomeRaised, models.AlertMessageStale},
		{"cleared within cooldown", models.ClearedState(now.Add(-time.Hour)), 13 * time.Hour, false, OutcomeAcknowledged, ""},
		{"cleared after cooldown", models.ClearedState(now.Add(-6 * time.Hour)), 18 * time.Hour, false, OutcomeRaised, models.AlertMessageStale},
		{"empty status treated as inactive", models.AlertState{}, 13 * time.Hour, false, OutcomeRaised, models.AlertMessageStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Decide(tt.state, tt.staleness, settings, tt.quiet, now)
			assert.Equal(t, tt.want, a.Outcome)
			assert.Equal(t, tt.notify, a.Notify)
			if a.Outcome == OutcomeRaised {
				assert.Equal(t, models.ActiveState(now, now.Add(settings.Cooldown)), a.Next)
			}
			if a.Outcome == OutcomeCleared {
				assert.Equal(t, models.AlertInactive, a.Next.Status)
			}
			assert.Equal(t, a.Outcome == OutcomeRaised || a.Outcome == OutcomeCleared, a.Transition())
		})
	}
}
