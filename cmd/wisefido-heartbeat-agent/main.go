package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wisefido-liveness/common/logger"
	mqttcommon "wisefido-liveness/common/mqtt"
	"wisefido-liveness/internal/config"
	"wisefido-liveness/internal/emitter"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadAgent()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-heartbeat-agent")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 心跳写入方式
	var writer emitter.HeartbeatWriter
	switch cfg.Transport {
	case config.TransportMQTT:
		client, err := mqttcommon.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect mqtt", zap.Error(err))
		}
		defer client.Disconnect()
		writer = emitter.NewMQTTHeartbeatWriter(client, cfg.TopicFormat, cfg.MQTT.QoS)
	case config.TransportHTTP:
		writer = emitter.NewHTTPHeartbeatWriter(cfg.ServerURL, cfg.WriteTimeout)
	}

	// 4. 创建上报器
	hb, err := emitter.NewHeartbeatEmitter(cfg.SubjectID, writer, emitter.Options{
		MinRefreshInterval:   cfg.MinRefreshInterval,
		LongSilenceThreshold: cfg.LongSilenceThreshold,
		WriteTimeout:         cfg.WriteTimeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create heartbeat emitter", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动即上报一次
	_, _ = hb.RecordActivity(ctx, true)
	go hb.Run(ctx, cfg.Tick)

	// 6. SIGUSR1 视为用户显式操作，立即上报；SIGINT/SIGTERM 退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for sig := range sigChan {
		if sig == syscall.SIGUSR1 {
			_, _ = hb.RecordActivity(ctx, true)
			continue
		}
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
			zap.Int("writes", hb.Stats().Writes),
			zap.Int("failures", hb.Stats().Failures),
		)
		cancel()
		return
	}
}
