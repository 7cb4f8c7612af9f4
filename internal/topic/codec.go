// Package topic 是 MQTT 主题命名约定的唯一事实来源。
// 主题格式: {tenantSecret}/moldPrevention/device{id}/{metric}
package topic

import "strings"

// Metric 主题携带的指标类型
type Metric string

const (
	MetricTemp     Metric = "temp"
	MetricHumidity Metric = "humidity"
	MetricAirPump  Metric = "airPump"
)

const (
	segmentService   = "moldPrevention"
	devicePrefix     = "device"
	segmentSeparator = "/"
)

// 订阅用通配符（单条订阅覆盖全部租户）
const (
	WildcardAirPump  = "+/" + segmentService + "/+/" + string(MetricAirPump)
	WildcardTemp     = "+/" + segmentService + "/+/" + string(MetricTemp)
	WildcardHumidity = "+/" + segmentService + "/+/" + string(MetricHumidity)
)

// Address 解码后的主题地址
type Address struct {
	TenantSecret string
	DeviceID     string
	Metric       Metric
}

// Decode 解析主题字符串；不符合约定的输入一律返回 nil（静默丢弃，不报错）
func Decode(topic string) *Address {
	parts := strings.Split(topic, segmentSeparator)
	if len(parts) != 4 {
		return nil
	}

	secret, service, device, metric := parts[0], parts[1], parts[2], parts[3]
	if secret == "" || service != segmentService {
		return nil
	}

	if !strings.HasPrefix(device, devicePrefix) {
		return nil
	}
	deviceID := device[len(devicePrefix):]
	if !isDigits(deviceID) {
		return nil
	}

	var m Metric
	switch Metric(metric) {
	case MetricTemp, MetricHumidity, MetricAirPump:
		m = Metric(metric)
	default:
		return nil
	}

	return &Address{
		TenantSecret: secret,
		DeviceID:     deviceID,
		Metric:       m,
	}
}

// Encode 构造主题字符串（Decode 的精确逆运算）
func Encode(tenantSecret, deviceID string, metric Metric) string {
	return tenantSecret + segmentSeparator +
		segmentService + segmentSeparator +
		devicePrefix + deviceID + segmentSeparator +
		string(metric)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
