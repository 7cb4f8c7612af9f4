package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"hiveguard-telemetry/internal/cache"
	"hiveguard-telemetry/internal/config"
	"hiveguard-telemetry/internal/models"
	"hiveguard-telemetry/internal/repository"
	"hiveguard-telemetry/internal/tracker"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RecordSaver 已完成激活记录的持久化入口
type RecordSaver interface {
	SaveRecord(ctx context.Context, record *models.ActivationRecord) error
}

// EventConsumer 气泵事件消费者
// 单个消费者串行排空 Stream 驱动会话跟踪器（保证每个键上的事件顺序），
// 关闭产生的激活记录交给有界的持久化 worker 池，慢写库不阻塞事件排空。
type EventConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	resolver    repository.TenantResolver
	tracker     *tracker.Tracker
	saver       RecordSaver
	logger      *zap.Logger

	records chan *models.ActivationRecord
	wg      sync.WaitGroup
}

// NewEventConsumer 创建气泵事件消费者
func NewEventConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	resolver repository.TenantResolver,
	sessionTracker *tracker.Tracker,
	saver RecordSaver,
	logger *zap.Logger,
) *EventConsumer {
	return &EventConsumer{
		config:      cfg,
		redisClient: redisClient,
		resolver:    resolver,
		tracker:     sessionTracker,
		saver:       saver,
		logger:      logger,
		records:     make(chan *models.ActivationRecord, cfg.Telemetry.PersistQueueLen),
	}
}

// Start 启动消费循环（阻塞直到 ctx 取消）
func (c *EventConsumer) Start(ctx context.Context) error {
	stream := c.config.Telemetry.Streams.Pump
	group := c.config.Telemetry.PumpGroup

	if err := cache.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create pump consumer group: %w", err)
	}

	// 持久化 worker 池
	workers := c.config.Telemetry.PersistWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.persistWorker()
	}

	consumerName := consumerName()
	c.logger.Info("Pump event consumer started",
		zap.String("stream", stream),
		zap.String("group", group),
		zap.String("consumer", consumerName),
		zap.Int("persist_workers", workers),
	)

	for {
		select {
		case <-ctx.Done():
			close(c.records)
			c.wg.Wait()
			c.logger.Info("Pump event consumer stopped",
				zap.Int("open_sessions", c.tracker.OpenSessions()),
			)
			return nil
		default:
		}

		messages, err := cache.ReadFromStream(ctx, c.redisClient, stream, group, consumerName, 64, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to read from pump stream", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
			// 处理失败也确认：接受单条事件的丢失，不无限重投
			if err := cache.AckMessage(ctx, c.redisClient, stream, group, msg.ID); err != nil {
				c.logger.Error("Failed to ack pump event", zap.String("id", msg.ID), zap.Error(err))
			}
		}
	}
}

// handleMessage 处理单条气泵事件
func (c *EventConsumer) handleMessage(ctx context.Context, msg cache.StreamMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Debug("Dropped stream message without data field", zap.String("id", msg.ID))
		return
	}

	var event models.PumpEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		c.logger.Debug("Dropped undecodable pump event",
			zap.String("id", msg.ID),
			zap.Error(err),
		)
		return
	}

	tenant, err := c.resolver.TenantBySecret(ctx, event.TenantSecret)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			// 租户必须已存在；未知密钥的事件丢弃，不重试
			c.logger.Warn("Dropped event for unknown tenant secret",
				zap.String("device_id", event.DeviceID),
			)
			return
		}
		c.logger.Error("Tenant lookup failed, event dropped",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
		return
	}

	record := c.tracker.Apply(*tenant, event.DeviceID, event.State, event.ReceivedAt)
	if record != nil {
		c.records <- record
	}
}

// persistWorker 排空记录队列并落库
func (c *EventConsumer) persistWorker() {
	defer c.wg.Done()

	for record := range c.records {
		// 崩溃窗口：OFF 之后、写入成功之前的崩溃恰好丢这一条记录
		if err := c.saver.SaveRecord(context.Background(), record); err != nil {
			c.logger.Error("Failed to persist activation record",
				zap.String("record_id", record.RecordID),
				zap.String("tenant_id", record.TenantID),
				zap.String("device_id", record.DeviceID),
				zap.Error(err),
			)
		}
	}
}

func consumerName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "hiveguard-telemetry"
}
