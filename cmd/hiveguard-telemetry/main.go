package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hiveguard-telemetry/internal/config"
	"hiveguard-telemetry/internal/correlator"
	httpapi "hiveguard-telemetry/internal/http"
	"hiveguard-telemetry/internal/logger"
	"hiveguard-telemetry/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "hiveguard-telemetry")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting hiveguard-telemetry service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	// 创建服务
	telemetryService, err := service.NewTelemetryService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create telemetry service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := telemetryService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start telemetry service", zap.Error(err))
	}

	// HTTP API
	live := correlator.NewCorrelator(&cfg.MQTT, zapLogger)
	handler := httpapi.NewTelemetryHandler(
		telemetryService.History(),
		telemetryService.Tracker(),
		live,
		telemetryService.ReadingsRepo(),
		telemetryService.BrokerConnected,
		cfg.Telemetry.LiveTimeout,
		zapLogger,
	)
	router := httpapi.NewRouter(zapLogger)
	router.RegisterTelemetryRoutes(handler)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	cancel()
	if err := telemetryService.Stop(shutdownCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
