package consumer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"hiveguard-telemetry/internal/cache"
	"hiveguard-telemetry/internal/config"
	"hiveguard-telemetry/internal/models"
	"hiveguard-telemetry/internal/topic"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	mqttcommon "hiveguard-telemetry/internal/mqtt"
)

// MQTTConsumer MQTT消息消费者（Broker 会话管理器的消息入口）
// 进程内唯一一条 broker 连接上的通配订阅覆盖全部租户。
// 回调里只做解码和入队（XADD），慢 I/O（租户解析、落库）全部
// 留给下游消费者，避免阻塞连接的读循环导致 broker 端流控断连。
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqttcommon.Client
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Start 建立订阅（断线重连后由客户端自动恢复）
func (c *MQTTConsumer) Start(ctx context.Context) error {
	qos := c.config.MQTT.QoS

	if err := c.mqttClient.Subscribe(c.config.Telemetry.Topics.Pump, qos, c.handlePumpMessage); err != nil {
		return err
	}
	if err := c.mqttClient.Subscribe(c.config.Telemetry.Topics.Temp, qos, c.handleSensorMessage); err != nil {
		return err
	}
	if err := c.mqttClient.Subscribe(c.config.Telemetry.Topics.Humidity, qos, c.handleSensorMessage); err != nil {
		return err
	}

	c.logger.Info("MQTT consumer started",
		zap.String("pump_topic", c.config.Telemetry.Topics.Pump),
		zap.String("temp_topic", c.config.Telemetry.Topics.Temp),
		zap.String("humidity_topic", c.config.Telemetry.Topics.Humidity),
	)
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(
		c.config.Telemetry.Topics.Pump,
		c.config.Telemetry.Topics.Temp,
		c.config.Telemetry.Topics.Humidity,
	); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handlePumpMessage 处理气泵 ON/OFF 事件
func (c *MQTTConsumer) handlePumpMessage(topicStr string, payload []byte) error {
	addr := topic.Decode(topicStr)
	if addr == nil {
		// 不符合命名约定的主题静默丢弃
		c.logger.Debug("Dropped message with malformed topic", zap.String("topic", topicStr))
		return nil
	}

	state := models.PumpState(strings.TrimSpace(string(payload)))
	if state != models.PumpOn && state != models.PumpOff {
		c.logger.Debug("Dropped pump message with invalid payload",
			zap.String("topic", topicStr),
			zap.ByteString("payload", payload),
		)
		return nil
	}

	event := models.PumpEvent{
		TenantSecret: addr.TenantSecret,
		DeviceID:     addr.DeviceID,
		State:        state,
		ReceivedAt:   time.Now().UTC(),
	}

	_, err := cache.PublishJSONToStream(context.Background(), c.redisClient, c.config.Telemetry.Streams.Pump, event)
	if err != nil {
		c.logger.Error("Failed to publish pump event to stream",
			zap.String("device_id", addr.DeviceID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// handleSensorMessage 处理温度/湿度采样
func (c *MQTTConsumer) handleSensorMessage(topicStr string, payload []byte) error {
	addr := topic.Decode(topicStr)
	if addr == nil {
		c.logger.Debug("Dropped message with malformed topic", zap.String("topic", topicStr))
		return nil
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		// 非数字荷载按非法输入丢弃
		c.logger.Debug("Dropped sensor message with non-numeric payload",
			zap.String("topic", topicStr),
			zap.ByteString("payload", payload),
		)
		return nil
	}

	sample := models.SensorSample{
		TenantSecret: addr.TenantSecret,
		DeviceID:     addr.DeviceID,
		Metric:       string(addr.Metric),
		Value:        value,
		ReceivedAt:   time.Now().UTC(),
	}

	_, err = cache.PublishJSONToStream(context.Background(), c.redisClient, c.config.Telemetry.Streams.Readings, sample)
	if err != nil {
		c.logger.Error("Failed to publish sensor sample to stream",
			zap.String("device_id", addr.DeviceID),
			zap.Error(err),
		)
		return err
	}

	return nil
}
