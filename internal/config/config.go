package config

import (
	"os"
	"strconv"
	"time"

	"hiveguard-telemetry/internal/topic"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// 重连间隔（固定退避，断线后无限重试）
	RetryInterval time.Duration
}

// Config 遥测服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string
	}

	// 遥测服务特定配置
	Telemetry struct {
		Topics struct {
			Pump     string // 气泵事件主题，如 "+/moldPrevention/+/airPump"
			Temp     string // 温度主题，如 "+/moldPrevention/+/temp"
			Humidity string // 湿度主题，如 "+/moldPrevention/+/humidity"
		}
		Streams struct {
			Pump     string // 气泵事件 Stream
			Readings string // 传感器采样 Stream
		}
		PumpGroup       string // 气泵事件消费者组
		ReadingsGroup   string // 传感器采样消费者组
		PersistWorkers  int    // 持久化worker数量
		PersistQueueLen int    // 持久化队列长度
		TenantCacheTTL  time.Duration
		ReadingCacheTTL time.Duration
		LiveTimeout     time.Duration // 实时读数默认超时
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() *Config {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "hiveguard")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "hiveguard-telemetry")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.RetryInterval = getEnvDuration("MQTT_RETRY_INTERVAL", 5*time.Second)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Telemetry.Topics.Pump = getEnv("TELEMETRY_TOPIC_PUMP", topic.WildcardAirPump)
	cfg.Telemetry.Topics.Temp = getEnv("TELEMETRY_TOPIC_TEMP", topic.WildcardTemp)
	cfg.Telemetry.Topics.Humidity = getEnv("TELEMETRY_TOPIC_HUMIDITY", topic.WildcardHumidity)
	cfg.Telemetry.Streams.Pump = getEnv("TELEMETRY_STREAM_PUMP", "hiveguard:pump:stream")
	cfg.Telemetry.Streams.Readings = getEnv("TELEMETRY_STREAM_READINGS", "hiveguard:readings:stream")
	cfg.Telemetry.PumpGroup = getEnv("TELEMETRY_PUMP_GROUP", "hiveguard-tracker")
	cfg.Telemetry.ReadingsGroup = getEnv("TELEMETRY_READINGS_GROUP", "hiveguard-readings")
	cfg.Telemetry.PersistWorkers = getEnvInt("TELEMETRY_PERSIST_WORKERS", 4)
	cfg.Telemetry.PersistQueueLen = getEnvInt("TELEMETRY_PERSIST_QUEUE", 256)
	cfg.Telemetry.TenantCacheTTL = getEnvDuration("TELEMETRY_TENANT_CACHE_TTL", 5*time.Minute)
	cfg.Telemetry.ReadingCacheTTL = getEnvDuration("TELEMETRY_READING_CACHE_TTL", 10*time.Minute)
	cfg.Telemetry.LiveTimeout = getEnvDuration("TELEMETRY_LIVE_TIMEOUT", 15*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
