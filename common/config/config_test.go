package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_NAME", "liveness")
	t.Setenv("DB_MAX_CONNS", "20")
	t.Setenv("DB_MAX_IDLE", "not-a-number")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, Database: "owlrd", MaxIdle: 5, SSLMode: "disable"}
	cfg.LoadFromEnv("DB")

	assert.Equal(t, "pg.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "liveness", cfg.Database)
	assert.Equal(t, 20, cfg.MaxConns)
	// 非法数字保留原值
	assert.Equal(t, 5, cfg.MaxIdle)
	assert.Equal(t, "host=pg.internal port=6543 user= password= dbname=liveness sslmode=disable", cfg.GetDSN())
}

func TestRedisConfig_EmptyAddrDisables(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	cfg := RedisConfig{Addr: "localhost:6379"}
	cfg.LoadFromEnv("REDIS")

	assert.False(t, cfg.Enabled())
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_CLIENT_ID", "agent-1")
	t.Setenv("MQTT_QOS", "2")

	cfg := MQTTConfig{QoS: 1}
	cfg.LoadFromEnv("MQTT")

	assert.True(t, cfg.Enabled())
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "agent-1", cfg.ClientID)
	assert.Equal(t, byte(2), cfg.QoS)
}

func TestMQTTConfig_InvalidQoSIgnored(t *testing.T) {
	t.Setenv("MQTT_QOS", "7")

	cfg := MQTTConfig{QoS: 1}
	cfg.LoadFromEnv("MQTT")

	assert.Equal(t, byte(1), cfg.QoS)
}
