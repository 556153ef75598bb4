package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Stream  StreamConfig
	Kafka   KafkaConfig
	Redis   RedisConfig
	Logging LoggingConfig
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// EngineConfig holds backtest engine specific configuration
type EngineConfig struct {
	TickInterval    time.Duration
	MaxProgressStep float64
}

// StreamConfig holds stream channel specific configuration
type StreamConfig struct {
	BaseURL              string
	Simulated            bool
	SimInterval          time.Duration
	BufferCapacity       int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int
	PushInterval         time.Duration
}

// KafkaConfig holds Kafka specific configuration. Empty brokers
// disables event publication.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Topics   map[string]string
}

// RedisConfig holds Redis specific configuration for the rate limiter
type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	RateLimitEnabled  bool
	RequestsPerMinute int
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads the configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variables override
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "120s")

	// Engine defaults
	v.SetDefault("engine.tickInterval", "1s")
	v.SetDefault("engine.maxProgressStep", 18.0)

	// Stream defaults
	v.SetDefault("stream.baseURL", "sim://feeds")
	v.SetDefault("stream.simulated", true)
	v.SetDefault("stream.simInterval", "2s")
	v.SetDefault("stream.bufferCapacity", 200)
	v.SetDefault("stream.backoffInitial", "500ms")
	v.SetDefault("stream.backoffMax", "30s")
	v.SetDefault("stream.maxReconnectAttempts", 0)
	v.SetDefault("stream.pushInterval", "1s")

	// Kafka topic defaults
	v.SetDefault("kafka.clientID", "derivatives-dashboard")
	v.SetDefault("kafka.topics.backtestEvents", "backtest-events")
	v.SetDefault("kafka.topics.riskAlertEvents", "risk-alert-events")

	// Redis defaults
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.rateLimitEnabled", false)
	v.SetDefault("redis.requestsPerMinute", 120)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
