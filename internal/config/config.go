package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	MySQL       MySQLConfig
	Auth        AuthConfig
	Reward      RewardConfig
	Tracking    TrackingConfig
	Monitoring  MonitoringConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// MQTTConfig конфигурация MQTT (трекеры, публикующие позиции)
type MQTTConfig struct {
	URL          string
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	OrderMatters bool
	TopicPrefix  string
}

// MySQLConfig конфигурация MySQL (история завершенных сессий)
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

// AuthConfig конфигурация аутентификации
type AuthConfig struct {
	Endpoint string
	CacheTTL time.Duration
}

// RewardConfig конфигурация внешнего сервиса начисления наград
type RewardConfig struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// TrackingConfig пороги анти-чит фильтра и жизненного цикла сессий
type TrackingConfig struct {
	// Потолок скорости для неизвестной активности (м/с)
	MaxSpeedMps float64
	// Буферный коэффициент к потолку скорости (1.2 = +20% на GPS-дрожание)
	SpeedBuffer float64
	// Минимальное перемещение для зачета точки (м)
	MinMovementMeters float64
	// Максимальная приемлемая погрешность сэмпла (м), 0 = не проверять
	MaxAccuracyMeters float64
	// Время неактивности, после которого Idle-сессия выгружается из памяти
	SessionIdleTTL time.Duration
	// Максимум точек трека, хранимых в Redis на сессию
	MaxStoredTrackPoints int
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
	MetricsPort    string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8080"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 100),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 10),
		},
		MQTT: MQTTConfig{
			URL:          getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:     getEnv("MQTT_CLIENT_ID", "tracking-api"),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			CleanSession: getBool("MQTT_CLEAN_SESSION", false),
			OrderMatters: getBool("MQTT_ORDER_MATTERS", true),
			TopicPrefix:  getEnv("MQTT_TOPIC_PREFIX", "m2e/t/+/loc"),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 100),
		},
		Auth: AuthConfig{
			Endpoint: getEnv("AUTH_ENDPOINT", "https://accounts.movearn.app/api/v1/auth/verify"),
			CacheTTL: getDuration("AUTH_CACHE_TTL", 5*time.Minute),
		},
		Reward: RewardConfig{
			Endpoint:   getEnv("REWARD_ENDPOINT", ""),
			Timeout:    getDuration("REWARD_TIMEOUT", 5*time.Second),
			MaxRetries: getInt("REWARD_MAX_RETRIES", 3),
			RetryDelay: getDuration("REWARD_RETRY_DELAY", 2*time.Second),
		},
		Tracking: TrackingConfig{
			MaxSpeedMps:          getFloat("TRACKING_MAX_SPEED_MPS", 35),
			SpeedBuffer:          getFloat("TRACKING_SPEED_BUFFER", 1.2),
			MinMovementMeters:    getFloat("TRACKING_MIN_MOVEMENT_METERS", 5),
			MaxAccuracyMeters:    getFloat("TRACKING_MAX_ACCURACY_METERS", 0),
			SessionIdleTTL:       getDuration("TRACKING_SESSION_IDLE_TTL", 12*time.Hour),
			MaxStoredTrackPoints: getInt("TRACKING_MAX_STORED_TRACK_POINTS", 999),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
			MetricsPort:    getEnv("METRICS_PORT", "9090"),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.MQTT.URL == "" {
		return fmt.Errorf("MQTT_URL is required")
	}

	if c.Tracking.MaxSpeedMps <= 0 {
		return fmt.Errorf("TRACKING_MAX_SPEED_MPS must be positive")
	}

	if c.Tracking.SpeedBuffer < 1 {
		return fmt.Errorf("TRACKING_SPEED_BUFFER must be >= 1")
	}

	if c.Tracking.MinMovementMeters < 0 {
		return fmt.Errorf("TRACKING_MIN_MOVEMENT_METERS must not be negative")
	}

	if c.Tracking.MaxStoredTrackPoints <= 0 {
		return fmt.Errorf("TRACKING_MAX_STORED_TRACK_POINTS must be positive")
	}

	if c.Reward.MaxRetries < 0 {
		return fmt.Errorf("REWARD_MAX_RETRIES must not be negative")
	}

	return nil
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}
