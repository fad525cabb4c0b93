package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "wisefido-liveness/common/config"
	"wisefido-liveness/internal/models"
)

// Config wisefido-liveness（服务端）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled     bool // false 时使用内存存储
	DBAutoMigrate bool // 启动时执行内嵌迁移脚本
	Database      commoncfg.DatabaseConfig
	Redis         commoncfg.RedisConfig // Addr 为空表示不启用
	MQTT          commoncfg.MQTTConfig  // Broker 为空表示不启用

	Sweep struct {
		Enabled      bool          // false 时只能通过 HTTP 触发（外部 cron）
		Interval     time.Duration // 同时是单次 tick 的截止时间
		Workers      int
		PageSize     int
		StoreTimeout time.Duration
		TenantID     string // 可选，只扫描该租户
	}

	Notify struct {
		SendTimeout    time.Duration
		WebhookTimeout time.Duration
		WebhookSecret  string // webhook HMAC 签名密钥，可选
		TopicPrefix    string // mqtt:<target> -> TopicPrefix + target
		AlertStream    string // 报警审计流
	}

	HeartbeatTopic string

	// 监护对象未配置时使用的默认值
	Defaults models.MonitorSettings

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载服务端配置
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.DBEnabled = getEnvBool("DB_ENABLED", true)
	cfg.DBAutoMigrate = getEnvBool("DB_AUTO_MIGRATE", true)
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-liveness",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Sweep.Enabled = getEnvBool("SWEEP_ENABLED", true)
	cfg.Sweep.Interval = getEnvDuration("SWEEP_INTERVAL", 15*time.Minute)
	cfg.Sweep.Workers = getEnvInt("SWEEP_WORKERS", 8)
	cfg.Sweep.PageSize = getEnvInt("SWEEP_PAGE_SIZE", 100)
	cfg.Sweep.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.Sweep.TenantID = getEnv("SWEEP_TENANT_ID", "")

	cfg.Notify.SendTimeout = getEnvDuration("SEND_TIMEOUT", 5*time.Second)
	cfg.Notify.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second)
	cfg.Notify.WebhookSecret = getEnv("WEBHOOK_HMAC_SECRET", "")
	cfg.Notify.TopicPrefix = getEnv("NOTIFY_TOPIC_PREFIX", "liveness/notify/")
	cfg.Notify.AlertStream = getEnv("ALERT_STREAM", "liveness:alerts:stream")

	cfg.HeartbeatTopic = getEnv("HEARTBEAT_TOPIC", "liveness/+/heartbeat")

	cfg.Defaults = models.MonitorSettings{
		AlertThreshold:       getEnvDuration("DEFAULT_ALERT_THRESHOLD", models.DefaultAlertThreshold),
		Cooldown:             getEnvDuration("DEFAULT_COOLDOWN", models.DefaultCooldown),
		MinRefreshInterval:   getEnvDuration("DEFAULT_MIN_REFRESH_INTERVAL", models.DefaultMinRefreshInterval),
		LongSilenceThreshold: getEnvDuration("DEFAULT_LONG_SILENCE_THRESHOLD", models.DefaultLongSilenceThreshold),
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.Sweep.Workers <= 0 {
		return fmt.Errorf("SWEEP_WORKERS must be positive")
	}
	if c.Sweep.PageSize <= 0 {
		return fmt.Errorf("SWEEP_PAGE_SIZE must be positive")
	}
	if c.MQTT.Enabled() && !strings.Contains(c.HeartbeatTopic, "+") {
		return fmt.Errorf("HEARTBEAT_TOPIC must contain a '+' wildcard for the subject id")
	}
	return nil
}

// AgentConfig wisefido-heartbeat-agent（监护对象端）配置
type AgentConfig struct {
	SubjectID            string
	Transport            string // mqtt | http
	ServerURL            string
	Tick                 time.Duration
	WriteTimeout         time.Duration
	MinRefreshInterval   time.Duration
	LongSilenceThreshold time.Duration
	TopicFormat          string
	MQTT                 commoncfg.MQTTConfig

	Log struct {
		Level  string
		Format string
	}
}

// 心跳上报方式
const (
	TransportMQTT = "mqtt"
	TransportHTTP = "http"
)

// LoadAgent 加载 agent 配置
func LoadAgent() (*AgentConfig, error) {
	cfg := &AgentConfig{}
	cfg.SubjectID = getEnv("SUBJECT_ID", "")
	cfg.Transport = strings.ToLower(getEnv("AGENT_TRANSPORT", TransportMQTT))
	cfg.ServerURL = getEnv("AGENT_SERVER_URL", "http://localhost:8080")
	cfg.Tick = getEnvDuration("AGENT_TICK", time.Minute)
	cfg.WriteTimeout = getEnvDuration("AGENT_WRITE_TIMEOUT", 5*time.Second)
	cfg.MinRefreshInterval = getEnvDuration("MIN_REFRESH_INTERVAL", models.DefaultMinRefreshInterval)
	cfg.LongSilenceThreshold = getEnvDuration("LONG_SILENCE_THRESHOLD", models.DefaultLongSilenceThreshold)
	cfg.TopicFormat = getEnv("HEARTBEAT_TOPIC_FORMAT", "liveness/%s/heartbeat")

	cfg.MQTT = commoncfg.MQTTConfig{
		Broker: "tcp://localhost:1883",
		QoS:    1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "liveness-agent-" + cfg.SubjectID
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "console")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验 agent 配置
func (c *AgentConfig) Validate() error {
	if c.SubjectID == "" {
		return fmt.Errorf("SUBJECT_ID is required")
	}
	switch c.Transport {
	case TransportMQTT:
		if !c.MQTT.Enabled() {
			return fmt.Errorf("MQTT_BROKER is required for mqtt transport")
		}
		if !strings.Contains(c.TopicFormat, "%s") {
			return fmt.Errorf("HEARTBEAT_TOPIC_FORMAT must contain %%s")
		}
	case TransportHTTP:
		if c.ServerURL == "" {
			return fmt.Errorf("AGENT_SERVER_URL is required for http transport")
		}
	default:
		return fmt.Errorf("unknown AGENT_TRANSPORT: %s", c.Transport)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("AGENT_TICK must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

// getEnvDuration 支持 "15m" 形式，纯数字按秒处理
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
