// Package correlator 面向交互调用方的一次性实时读数门面：
// 为单个设备取一对新鲜的温度+湿度读数，延迟有界。
package correlator

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"hiveguard-telemetry/internal/config"
	"hiveguard-telemetry/internal/models"
	"hiveguard-telemetry/internal/topic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	mqttcommon "hiveguard-telemetry/internal/mqtt"
)

// ErrTimeout 超时内没有集齐一对读数
// 调用方必须把它展示为"无法联系传感器"，不能当成零值读数。
var ErrTimeout = errors.New("live readings timed out")

// Conn 实时读数用的短生命周期 broker 连接
type Conn interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// Correlator 实时读数关联器
// 每个请求使用独立的连接和订阅范围：并发调用方各自只收到
// 自己设备的读数，完成或超时后立刻拆除，不泄漏订阅。
type Correlator struct {
	dial   func() (Conn, error)
	qos    byte
	logger *zap.Logger
}

// NewCorrelator 创建实时读数关联器
func NewCorrelator(cfg *config.MQTTConfig, logger *zap.Logger) *Correlator {
	return &Correlator{
		dial: func() (Conn, error) {
			// 派生独立 ClientID，避免挤掉长连接
			ephemeral := *cfg
			ephemeral.ClientID = cfg.ClientID + "-live-" + uuid.New().String()[:8]
			return mqttcommon.NewClient(&ephemeral, logger)
		},
		qos:    cfg.QoS,
		logger: logger,
	}
}

// NewCorrelatorWithDialer 使用自定义连接工厂创建（测试用）
func NewCorrelatorWithDialer(dial func() (Conn, error), qos byte, logger *zap.Logger) *Correlator {
	return &Correlator{
		dial:   dial,
		qos:    qos,
		logger: logger,
	}
}

// FetchCurrentReadings 获取一对当前读数
// 两个指标都到齐才返回，绝不返回半对；超时返回 ErrTimeout；
// 调用方断开（ctx 取消）立即拆除订阅并返回。
func (c *Correlator) FetchCurrentReadings(ctx context.Context, tenantSecret, deviceID string, timeout time.Duration) (*models.LiveReadings, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Disconnect()

	tempTopic := topic.Encode(tenantSecret, deviceID, topic.MetricTemp)
	humidityTopic := topic.Encode(tenantSecret, deviceID, topic.MetricHumidity)

	tempCh := make(chan float64, 1)
	humidityCh := make(chan float64, 1)

	numericHandler := func(ch chan<- float64) mqttcommon.MessageHandler {
		return func(_ string, payload []byte) error {
			value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
			if err != nil {
				// 非数字荷载丢弃，继续等下一条
				return nil
			}
			select {
			case ch <- value:
			default:
			}
			return nil
		}
	}

	if err := conn.Subscribe(tempTopic, c.qos, numericHandler(tempCh)); err != nil {
		return nil, err
	}
	if err := conn.Subscribe(humidityTopic, c.qos, numericHandler(humidityCh)); err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Unsubscribe(tempTopic, humidityTopic); err != nil {
			c.logger.Debug("Failed to tear down live subscription", zap.Error(err))
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	readings := &models.LiveReadings{}
	haveTemp, haveHumidity := false, false

	for !haveTemp || !haveHumidity {
		select {
		case v := <-tempCh:
			readings.Temperature = v
			haveTemp = true
		case v := <-humidityCh:
			readings.Humidity = v
			haveHumidity = true
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return readings, nil
}
