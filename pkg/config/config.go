package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port      string `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	MongoSQL   DatabaseConfig `mapstructure:"mongo"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	Sync       SyncConfig     `mapstructure:"sync"`
}

// Push definition push_worker YAML structure
type Push struct {
	MetricsPort string `mapstructure:"metrics_port"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	MongoSQL   DatabaseConfig `mapstructure:"mongo"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	Provider   ProviderConfig `mapstructure:"provider"`
}

// SyncConfig definition per device session setting
type SyncConfig struct {
	PageSize          int           `mapstructure:"page_size"`
	ChannelScope      string        `mapstructure:"channel_scope"`
	ReconnectRetry    int           `mapstructure:"reconnect_retry"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
}

// RedisConfig definition redis setting, Addr empty means use sentinel from .env
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	RedisDB  int    `mapstructure:"redis_db"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	RetryCount    int      `mapstructure:"retry_count"`
	RetryInterval int      `mapstructure:"retry_interval"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP            string `mapstructure:"ip"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Queue         string `mapstructure:"queue"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryInterval int    `mapstructure:"retry_interval"`
}

// ProviderConfig definition push provider endpoint
type ProviderConfig struct {
	URL         string        `mapstructure:"url"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BatchSize   int           `mapstructure:"batch_size"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}
