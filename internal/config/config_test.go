package config

import (
	"testing"
	"time"

	"wisefido-liveness/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.DBEnabled)
	assert.True(t, cfg.DBAutoMigrate)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 8, cfg.Sweep.Workers)
	assert.Equal(t, 100, cfg.Sweep.PageSize)
	assert.Equal(t, models.DefaultMonitorSettings(), cfg.Defaults)
	assert.Equal(t, "liveness/+/heartbeat", cfg.HeartbeatTopic)
	assert.Equal(t, "liveness:alerts:stream", cfg.Notify.AlertStream)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MQTT_BROKER", "")
	t.Setenv("SWEEP_INTERVAL", "2m")
	t.Setenv("SWEEP_WORKERS", "3")
	t.Setenv("DEFAULT_ALERT_THRESHOLD", "7200")
	t.Setenv("DEFAULT_COOLDOWN", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.DBEnabled)
	assert.False(t, cfg.DBAutoMigrate)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.MQTT.Enabled())
	assert.Equal(t, 2*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 3, cfg.Sweep.Workers)
	assert.Equal(t, 2*time.Hour, cfg.Defaults.AlertThreshold)
	assert.Equal(t, models.DefaultCooldown, cfg.Defaults.Cooldown)
}

func TestLoad_InvalidSweep(t *testing.T) {
	t.Setenv("SWEEP_WORKERS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAgent(t *testing.T) {
	t.Setenv("SUBJECT_ID", "subject-1")
	t.Setenv("AGENT_TICK", "30s")

	cfg, err := LoadAgent()
	require.NoError(t, err)
	assert.Equal(t, TransportMQTT, cfg.Transport)
	assert.Equal(t, 30*time.Second, cfg.Tick)
	assert.Equal(t, "liveness-agent-subject-1", cfg.MQTT.ClientID)
	assert.Equal(t, models.DefaultMinRefreshInterval, cfg.MinRefreshInterval)
}

func TestLoadAgent_Validation(t *testing.T) {
	_, err := LoadAgent()
	assert.ErrorContains(t, err, "SUBJECT_ID")

	t.Setenv("SUBJECT_ID", "subject-1")
	t.Setenv("AGENT_TRANSPORT", "carrier-pigeon")
	_, err = LoadAgent()
	assert.ErrorContains(t, err, "AGENT_TRANSPORT")

	t.Setenv("AGENT_TRANSPORT", "HTTP")
	cfg, err := LoadAgent()
	require.NoError(t, err)
	assert.Equal(t, TransportHTTP, cfg.Transport)
}
