package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hiveguard-telemetry/internal/cache"
	"hiveguard-telemetry/internal/config"
	"hiveguard-telemetry/internal/models"
	"hiveguard-telemetry/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ReadingStore 采样落库入口
type ReadingStore interface {
	InsertReading(ctx context.Context, reading *repository.SensorReading) error
}

// latestReadingKey 最近一次读数缓存键
func latestReadingKey(tenantID, deviceID, metric string) string {
	return "hiveguard:latest:" + tenantID + ":" + deviceID + ":" + metric
}

// ReadingsConsumer 传感器采样消费者
// 排空采样 Stream：解析租户、写入采样历史表、
// 刷新 (租户, 设备, 指标) 最近值缓存。
type ReadingsConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	resolver    repository.TenantResolver
	store       ReadingStore
	logger      *zap.Logger
}

// NewReadingsConsumer 创建传感器采样消费者
func NewReadingsConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	resolver repository.TenantResolver,
	store ReadingStore,
	logger *zap.Logger,
) *ReadingsConsumer {
	return &ReadingsConsumer{
		config:      cfg,
		redisClient: redisClient,
		resolver:    resolver,
		store:       store,
		logger:      logger,
	}
}

// Start 启动消费循环（阻塞直到 ctx 取消）
func (c *ReadingsConsumer) Start(ctx context.Context) error {
	stream := c.config.Telemetry.Streams.Readings
	group := c.config.Telemetry.ReadingsGroup

	if err := cache.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create readings consumer group: %w", err)
	}

	consumerName := consumerName()
	c.logger.Info("Readings consumer started",
		zap.String("stream", stream),
		zap.String("group", group),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Readings consumer stopped")
			return nil
		default:
		}

		messages, err := cache.ReadFromStream(ctx, c.redisClient, stream, group, consumerName, 128, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to read from readings stream", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
			if err := cache.AckMessage(ctx, c.redisClient, stream, group, msg.ID); err != nil {
				c.logger.Error("Failed to ack sensor sample", zap.String("id", msg.ID), zap.Error(err))
			}
		}
	}
}

// handleMessage 处理单条采样
func (c *ReadingsConsumer) handleMessage(ctx context.Context, msg cache.StreamMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return
	}

	var sample models.SensorSample
	if err := json.Unmarshal([]byte(data), &sample); err != nil {
		c.logger.Debug("Dropped undecodable sensor sample", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	tenant, err := c.resolver.TenantBySecret(ctx, sample.TenantSecret)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			c.logger.Warn("Dropped sample for unknown tenant secret",
				zap.String("device_id", sample.DeviceID),
			)
			return
		}
		c.logger.Error("Tenant lookup failed, sample dropped",
			zap.String("device_id", sample.DeviceID),
			zap.Error(err),
		)
		return
	}

	reading := &repository.SensorReading{
		TenantID:   tenant.TenantID,
		DeviceID:   sample.DeviceID,
		Metric:     sample.Metric,
		Value:      sample.Value,
		RecordedAt: sample.ReceivedAt,
	}
	if err := c.store.InsertReading(ctx, reading); err != nil {
		c.logger.Error("Failed to insert sensor reading",
			zap.String("device_id", sample.DeviceID),
			zap.Error(err),
		)
		// 缓存仍然刷新：展示层能看到最新值即可
	}

	key := latestReadingKey(tenant.TenantID, sample.DeviceID, sample.Metric)
	value := strconv.FormatFloat(sample.Value, 'f', -1, 64)
	if err := c.redisClient.Set(ctx, key, value, c.config.Telemetry.ReadingCacheTTL).Err(); err != nil {
		c.logger.Debug("Failed to refresh latest reading cache", zap.String("key", key), zap.Error(err))
	}
}
