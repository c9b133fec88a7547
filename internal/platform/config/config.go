package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for a service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Version   string          `mapstructure:"version"`
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" envconfig:"DB_HOST" default:"localhost"`
	Port            int           `mapstructure:"port" envconfig:"DB_PORT" default:"5432"`
	User            string        `mapstructure:"user" envconfig:"DB_USER" default:"postgres"`
	Password        string        `mapstructure:"password" envconfig:"DB_PASSWORD" default:"postgres"`
	Database        string        `mapstructure:"database" envconfig:"DB_NAME" default:"tradeflow"`
	SSLMode         string        `mapstructure:"ssl_mode" envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB           int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `mapstructure:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS" default:"5"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	EventsTopic string   `mapstructure:"events_topic" envconfig:"KAFKA_EVENTS_TOPIC" default:"tradeflow.events"`
}

// EngineConfig holds workflow engine configuration
type EngineConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel" envconfig:"ENGINE_MAX_PARALLEL" default:"4"`
	WatchdogTimeout time.Duration `mapstructure:"watchdog_timeout" envconfig:"ENGINE_WATCHDOG_TIMEOUT" default:"10m"`
	QueuePoll       time.Duration `mapstructure:"queue_poll" envconfig:"ENGINE_QUEUE_POLL" default:"50ms"`
	ReadinessRetry  time.Duration `mapstructure:"readiness_retry" envconfig:"ENGINE_READINESS_RETRY" default:"100ms"`
	FailureRetry    time.Duration `mapstructure:"failure_retry" envconfig:"ENGINE_FAILURE_RETRY" default:"500ms"`
	StallBound      int           `mapstructure:"stall_bound" envconfig:"ENGINE_STALL_BOUND" default:"100"`
	DetectCycles    bool          `mapstructure:"detect_cycles" envconfig:"ENGINE_DETECT_CYCLES" default:"true"`
	NodeStateTTL    time.Duration `mapstructure:"node_state_ttl" envconfig:"ENGINE_NODE_STATE_TTL" default:"24h"`
}

// WebhookConfig holds webhook dispatcher configuration
type WebhookConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" envconfig:"WEBHOOK_TIMEOUT" default:"30s"`
	RetryAttempts int           `mapstructure:"retry_attempts" envconfig:"WEBHOOK_RETRY_ATTEMPTS" default:"3"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" envconfig:"TRACING_ENABLED" default:"true"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint" envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	ServiceName    string `mapstructure:"service_name" envconfig:"TELEMETRY_SERVICE_NAME"`
}

// Load loads configuration from files and environment
func Load(serviceName string) (*Config, error) {
	var cfg Config

	cfg.Service.Name = serviceName
	cfg.Telemetry.ServiceName = serviceName

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("./configs/services/" + serviceName)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else {
		cfg.Version = "dev"
	}

	return &cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
