package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"hiveguard-telemetry/internal/cache"
	"hiveguard-telemetry/internal/config"
	"hiveguard-telemetry/internal/consumer"
	"hiveguard-telemetry/internal/database"
	"hiveguard-telemetry/internal/repository"
	"hiveguard-telemetry/internal/tracker"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	mqttcommon "hiveguard-telemetry/internal/mqtt"
)

// TelemetryService 遥测关联服务
// 显式持有会话跟踪器和唯一的 broker 连接（进程启动时构造一次，
// 按引用注入各组件，不使用包级单例）。
type TelemetryService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	tracker      *tracker.Tracker
	history      *HistoryService
	readingsRepo *repository.SensorReadingsRepository

	monitor  *consumer.MQTTConsumer
	events   *consumer.EventConsumer
	readings *consumer.ReadingsConsumer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelemetryService 创建遥测服务
func NewTelemetryService(cfg *config.Config, logger *zap.Logger) (*TelemetryService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := cache.NewRedisClient(&cfg.Redis)
	if err := cache.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT（连接在后台建立，失败无限重试）
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT client: %w", err)
	}

	// Repository
	resolver := repository.NewPostgresTenantResolver(db, redisClient, cfg.Telemetry.TenantCacheTTL, logger)
	nestedRepo := repository.NewNestedActivationsRepository(db, logger)
	flatRepo := repository.NewFlatActivationsRepository(db, logger)
	readingsRepo := repository.NewSensorReadingsRepository(db, logger)

	history := NewHistoryService(nestedRepo, flatRepo, logger)
	sessionTracker := tracker.NewTracker(logger)

	// Consumer
	monitor := consumer.NewMQTTConsumer(cfg, mqttClient, redisClient, logger)
	events := consumer.NewEventConsumer(cfg, redisClient, resolver, sessionTracker, history, logger)
	readings := consumer.NewReadingsConsumer(cfg, redisClient, resolver, readingsRepo, logger)

	return &TelemetryService{
		config:       cfg,
		logger:       logger,
		db:           db,
		redis:        redisClient,
		mqttClient:   mqttClient,
		tracker:      sessionTracker,
		history:      history,
		readingsRepo: readingsRepo,
		monitor:      monitor,
		events:       events,
		readings:     readings,
	}, nil
}

// Start 启动服务组件
func (s *TelemetryService) Start(ctx context.Context) error {
	s.logger.Info("Starting telemetry service components")

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// Stream 消费者
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.events.Start(runCtx); err != nil {
			s.logger.Error("Pump event consumer exited", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.readings.Start(runCtx); err != nil {
			s.logger.Error("Readings consumer exited", zap.Error(err))
		}
	}()

	// MQTT 订阅
	if err := s.monitor.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	s.logger.Info("Telemetry service started successfully")
	return nil
}

// Stop 停止服务
func (s *TelemetryService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping telemetry service")

	if s.monitor != nil {
		if err := s.monitor.Stop(ctx); err != nil {
			s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redis != nil {
		if err := cache.Close(s.redis); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database", zap.Error(err))
		}
	}

	s.logger.Info("Telemetry service stopped")
	return nil
}

// History 持久化对账器（供接口层使用）
func (s *TelemetryService) History() *HistoryService {
	return s.history
}

// Tracker 会话跟踪器（供接口层使用）
func (s *TelemetryService) Tracker() *tracker.Tracker {
	return s.tracker
}

// ReadingsRepo 传感器采样仓库（供接口层使用）
func (s *TelemetryService) ReadingsRepo() *repository.SensorReadingsRepository {
	return s.readingsRepo
}

// BrokerConnected broker 连接状态（健康探针用）
func (s *TelemetryService) BrokerConnected() bool {
	return s.mqttClient != nil && s.mqttClient.IsConnected()
}
