package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Kafka     KafkaConfig     `json:"kafka"`
	Logger    LoggerConfig    `json:"logger"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Auth      AuthConfig      `json:"auth"`
	Hub       HubConfig       `json:"hub"`
	Gateway   GatewayConfig   `json:"gateway"`
}

// CacheConfig представляет конфигурацию кеширования
type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	DefaultTTL int  `json:"default_ttl"`  // TTL для обычных данных (секунды)
	HotDataTTL int  `json:"hot_data_ttl"` // TTL для горячих данных (секунды)
}

// RateLimitConfig представляет конфигурацию ограничения частоты запросов
type RateLimitConfig struct {
	Enabled     bool `json:"enabled"`
	DefaultRPM  int  `json:"default_rpm"`
	VIPRPM      int  `json:"vip_rpm"`
	BanDuration int  `json:"ban_duration"` // секунды
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Events    string `json:"events"`
	Locations string `json:"locations"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// AuthConfig представляет конфигурацию проверки токенов сессии
type AuthConfig struct {
	JWTSecret string `json:"-"`
	Issuer    string `json:"issuer"`
}

// HubConfig представляет конфигурацию широковещательного хаба
type HubConfig struct {
	QueueSize int `json:"queue_size"` // размер очереди на одного подписчика
}

// GatewayConfig представляет конфигурацию шлюза постоянных соединений
type GatewayConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	PongWait       time.Duration `json:"pong_wait"`
	WriteWait      time.Duration `json:"write_wait"`
	MaxMessageSize int64         `json:"max_message_size"`
	ReplyBuffer    int           `json:"reply_buffer"`
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() *Config {
	// .env опционален, переменные окружения имеют приоритет
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", true),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "tracking_user"),
			Password: getEnv("DB_PASSWORD", "tracking_pass"),
			DBName:   getEnv("DB_NAME", "delivery_tracking"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", true),
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "tracking-hub"),
			Topics: Topics{
				Events:    getEnv("KAFKA_TOPIC_EVENTS", "tracking-events"),
				Locations: getEnv("KAFKA_TOPIC_LOCATIONS", "locations"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Cache: CacheConfig{
			Enabled:    getEnvAsBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvAsInt("CACHE_DEFAULT_TTL", 30), // списки быстро устаревают
			HotDataTTL: getEnvAsInt("CACHE_HOT_DATA_TTL", 10),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvAsBool("RATE_LIMIT_ENABLED", true),
			DefaultRPM:  getEnvAsInt("RATE_LIMIT_DEFAULT_RPM", 120),
			VIPRPM:      getEnvAsInt("RATE_LIMIT_VIP_RPM", 600),
			BanDuration: getEnvAsInt("RATE_LIMIT_BAN_DURATION", 60),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
			Issuer:    getEnv("JWT_ISSUER", "delivery-tracking"),
		},
		Hub: HubConfig{
			QueueSize: getEnvAsInt("HUB_QUEUE_SIZE", 256),
		},
		Gateway: GatewayConfig{
			PingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 25*time.Second),
			PongWait:       getEnvAsDuration("WS_PONG_WAIT", 60*time.Second),
			WriteWait:      getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second),
			MaxMessageSize: int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 8192)),
			ReplyBuffer:    getEnvAsInt("WS_REPLY_BUFFER", 32),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration принимает "30s", "1m" и т.п.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}
