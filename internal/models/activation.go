package models

import (
	"fmt"
	"time"
)

// DisplayDateLayout 历史记录展示用日期格式（DD/MM/YYYY HH:MM）
const DisplayDateLayout = "02/01/2006 15:04"

// PumpState 气泵开关状态
type PumpState string

const (
	PumpOn  PumpState = "ON"
	PumpOff PumpState = "OFF"
)

// PumpEvent 解码后的气泵事件（经由 Redis Stream 分发）
type PumpEvent struct {
	TenantSecret string    `json:"tenant_secret"`
	DeviceID     string    `json:"device_id"`
	State        PumpState `json:"state"`
	ReceivedAt   time.Time `json:"received_at"`
}

// SensorSample 解码后的传感器采样（temp/humidity）
type SensorSample struct {
	TenantSecret string    `json:"tenant_secret"`
	DeviceID     string    `json:"device_id"`
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	ReceivedAt   time.Time `json:"received_at"`
}

// ActivationSession 进行中的激活会话（仅存在于内存）
type ActivationSession struct {
	TenantID  string
	DeviceID  string
	OwnerName string
	StartedAt time.Time
}

// ActivationRecord 已完成的激活记录（创建后不可变，写入持久层）
type ActivationRecord struct {
	RecordID  string    `json:"record_id"`
	TenantID  string    `json:"tenantId"`
	DeviceID  string    `json:"deviceId"`
	OwnerName string    `json:"ownerName"`
	Date      string    `json:"date"`     // DD/MM/YYYY HH:MM
	Duration  string    `json:"duration"` // HH:MM:SS
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Timestamp time.Time `json:"timestamp"` // 写入时刻，排序主键
}

// Tenant 外部租户记录（由密钥解析得到）
type Tenant struct {
	TenantID  string `json:"tenant_id"`
	OwnerName string `json:"owner_name"`
}

// LiveReadings 一次性实时读数（温度+湿度成对返回，不返回半对）
type LiveReadings struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// FormatDuration 将时长格式化为 HH:MM:SS（四舍五入到整秒）
func FormatDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second).Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// ParseDuration 解析 HH:MM:SS 时长字符串（用于兼容排序的末级比较）
func ParseDuration(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// ParseDisplayDate 解析 DD/MM/YYYY HH:MM 展示日期
// 兼容只有日期没有时间的旧记录
func ParseDisplayDate(s string) (time.Time, error) {
	if t, err := time.Parse(DisplayDateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("02/01/2006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
