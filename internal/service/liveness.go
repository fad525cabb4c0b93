package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wisefido-liveness/common/database"
	mqttcommon "wisefido-liveness/common/mqtt"
	rediscommon "wisefido-liveness/common/redis"
	migrations "wisefido-liveness/db"
	"wisefido-liveness/internal/alert"
	"wisefido-liveness/internal/config"
	"wisefido-liveness/internal/consumer"
	"wisefido-liveness/internal/dispatcher"
	httpapi "wisefido-liveness/internal/http"
	"wisefido-liveness/internal/repository"
	"wisefido-liveness/internal/sweep"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LivenessService 存活监测服务（整合各层）
type LivenessService struct {
	config      *config.Config
	db          *sql.DB       // DB_ENABLED=false 时为 nil
	redisClient *redis.Client // REDIS_ADDR 为空时为 nil
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	subjects  repository.SubjectRepository
	events    repository.AlertEventRepository
	manager   *alert.Manager
	scheduler *sweep.Scheduler
	consumer  *consumer.HeartbeatConsumer // MQTT 未启用时为 nil
	server    *Server
}

// NewLivenessService 创建存活监测服务
func NewLivenessService(cfg *config.Config, logger *zap.Logger) (*LivenessService, error) {
	s := &LivenessService{config: cfg, logger: logger}

	// 1. 存储：PostgreSQL 或内存
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(context.Background(), &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		s.db = db
		if cfg.DBAutoMigrate {
			if _, err := migrations.Apply(context.Background(), db, logger); err != nil {
				s.closeAll()
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
		}
		s.subjects = repository.NewPostgresSubjectsRepository(db, logger)
		s.events = repository.NewAlertEventsRepository(db, logger)
	} else {
		logger.Warn("DB disabled, using in-memory liveness store")
		s.subjects = repository.NewMemorySubjectsRepo()
		s.events = repository.NewMemoryAlertEventsRepo(100)
	}

	// 2. Redis（可选）：stream: 通知端点 + 报警审计流
	if cfg.Redis.Enabled() {
		if err := s.connectRedis(); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	// 3. MQTT（可选）：心跳接入 + mqtt: 通知端点
	if cfg.MQTT.Enabled() {
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.mqttClient = client
	}

	// 4. 通知分发
	router := dispatcher.NewRouter().
		Register(dispatcher.SchemeHTTP, dispatcher.NewWebhookSender(cfg.Notify.WebhookTimeout, cfg.Notify.WebhookSecret))
	if s.mqttClient != nil {
		router.Register(dispatcher.SchemeMQTT, dispatcher.NewMQTTSender(s.mqttClient, cfg.Notify.TopicPrefix, s.mqttClient.QoS()))
	}
	if s.redisClient != nil {
		router.Register(dispatcher.SchemeStream, dispatcher.NewStreamSender(s.redisClient))
	}
	notifier := dispatcher.NewDispatcher(router, cfg.Notify.SendTimeout, logger)

	// 5. 报警生命周期
	var audit alert.AuditPublisher
	if s.redisClient != nil {
		audit = alert.NewStreamAuditor(s.redisClient, cfg.Notify.AlertStream)
	}
	s.manager = alert.NewManager(s.subjects, notifier, s.events, audit, cfg.Defaults, logger).
		WithStoreTimeout(cfg.Sweep.StoreTimeout)

	// 6. 过期扫描
	s.scheduler = sweep.NewScheduler(s.subjects, s.manager, sweep.Config{
		Interval:         cfg.Sweep.Interval,
		Workers:          cfg.Sweep.Workers,
		PageSize:         cfg.Sweep.PageSize,
		StoreTimeout:     cfg.Sweep.StoreTimeout,
		DefaultThreshold: cfg.Defaults.AlertThreshold,
		TenantID:         cfg.Sweep.TenantID,
	}, logger)

	// 7. MQTT 心跳消费者
	if s.mqttClient != nil {
		s.consumer = consumer.NewHeartbeatConsumer(
			s.mqttClient,
			s.subjects,
			cfg.HeartbeatTopic,
			s.mqttClient.QoS(),
			cfg.Sweep.StoreTimeout,
			logger,
		)
	}

	// 8. HTTP
	httpRouter := httpapi.NewRouter(logger)
	httpRouter.RegisterLivenessRoutes(httpapi.NewLivenessHandler(
		s.subjects, s.scheduler, s.manager, s.events, cfg.Defaults, logger,
	))
	httpRouter.RegisterHealthRoutes(httpapi.NewHealthHandler(logger, s.healthChecks()...))
	s.server = NewServer(cfg.HTTP.Addr, httpRouter, logger)

	return s, nil
}

// Start 启动服务，阻塞到 ctx 取消或 HTTP server 失败
func (s *LivenessService) Start(ctx context.Context) error {
	s.logger.Info("Starting liveness service",
		zap.Bool("db_enabled", s.db != nil),
		zap.Bool("redis_enabled", s.redisClient != nil),
		zap.Bool("mqtt_enabled", s.mqttClient != nil),
		zap.Bool("sweep_enabled", s.config.Sweep.Enabled),
	)

	errCh := make(chan error, 3)

	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.consumer != nil {
		go func() {
			if err := s.consumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("heartbeat consumer: %w", err)
			}
		}()
	}

	if s.config.Sweep.Enabled {
		go func() {
			_ = s.scheduler.Start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop 停止服务
func (s *LivenessService) Stop() error {
	s.logger.Info("Stopping liveness service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Stop(shutdownCtx); err != nil {
		s.logger.Error("Failed to stop http server", zap.Error(err))
	}

	if s.consumer != nil {
		_ = s.consumer.Stop()
	}
	s.closeAll()
	return nil
}

// connectRedis 创建客户端并 ping；失败时客户端已挂在 s 上，由 closeAll 关闭
func (s *LivenessService) connectRedis() error {
	s.redisClient = rediscommon.NewRedisClient(&s.config.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rediscommon.Ping(pingCtx, s.redisClient); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (s *LivenessService) closeAll() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
}

func (s *LivenessService) healthChecks() []httpapi.HealthCheck {
	var checks []httpapi.HealthCheck
	if s.db != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "postgres", Check: s.db.PingContext})
	}
	if s.redisClient != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rediscommon.Ping(ctx, s.redisClient)
		}})
	}
	if s.mqttClient != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "mqtt", Check: func(context.Context) error {
			if !s.mqttClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}})
	}
	return checks
}
