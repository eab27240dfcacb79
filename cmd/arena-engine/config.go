package main

import (
	"fmt"
	"os"
	"time"

	"pdarena/internal/arena/sandbox"
	"pdarena/internal/arena/service"
	"pdarena/internal/common/cache"
	"pdarena/internal/common/db"
	"pdarena/internal/common/mq"
	"pdarena/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultResolveTopic    = "arena.resolve"
	defaultSummaryTopic    = "arena.resolution.summary"
	defaultConsumerGroup   = "arena-engine"
	defaultRunLockTTL      = 10 * time.Minute
)

// ServerConfig holds HTTP server settings.
// WriteTimeout bounds synchronous resolve requests.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds broker and topic settings.
type KafkaConfig struct {
	mq.KafkaConfig `yaml:",inline"`

	ResolveTopic    string        `yaml:"resolveTopic"`
	SummaryTopic    string        `yaml:"summaryTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	// Disabled runs the engine with the HTTP surface only.
	Disabled bool `yaml:"disabled"`
}

// EngineConfig holds resolution tuning.
type EngineConfig struct {
	RoundsPerMatch            int           `yaml:"roundsPerMatch"`
	Workers                   int           `yaml:"workers"`
	MaxConcurrentSandboxCalls int           `yaml:"maxConcurrentSandboxCalls"`
	MaxAttempts               int           `yaml:"maxAttempts"`
	RetryBaseDelay            time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay             time.Duration `yaml:"retryMaxDelay"`
	ParseFailurePolicy        string        `yaml:"parseFailurePolicy"`
	MaxCodeBytes              int           `yaml:"maxCodeBytes"`
	ActivationMaxRetries      int           `yaml:"activationMaxRetries"`
	RunLockTTL                time.Duration `yaml:"runLockTTL"`
}

// AppConfig holds arena-engine config.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logger   logger.Config     `yaml:"logger"`
	Database db.MySQLConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    KafkaConfig       `yaml:"kafka"`
	Sandbox  sandbox.Config    `yaml:"sandbox"`
	Engine   EngineConfig      `yaml:"engine"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox baseURL is required")
	}
	if !cfg.Kafka.Disabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	cfg.Redis.ApplyDefaults()
	cfg.Sandbox.ApplyDefaults()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Kafka.ResolveTopic == "" {
		cfg.Kafka.ResolveTopic = defaultResolveTopic
	}
	if cfg.Kafka.SummaryTopic == "" {
		cfg.Kafka.SummaryTopic = defaultSummaryTopic
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = defaultConsumerGroup
	}
	if cfg.Engine.RunLockTTL == 0 {
		cfg.Engine.RunLockTTL = defaultRunLockTTL
	}
	return &cfg, nil
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetterTopic,
	}
}

func (e EngineConfig) toOptions(timeLimit time.Duration) service.EngineOptions {
	return service.EngineOptions{
		RoundsPerMatch:            e.RoundsPerMatch,
		Workers:                   e.Workers,
		MaxConcurrentSandboxCalls: e.MaxConcurrentSandboxCalls,
		MaxAttempts:               e.MaxAttempts,
		RetryBaseDelay:            e.RetryBaseDelay,
		RetryMaxDelay:             e.RetryMaxDelay,
		TimeLimit:                 timeLimit,
		ParseFailurePolicy:        e.ParseFailurePolicy,
		MaxCodeBytes:              e.MaxCodeBytes,
		ActivationMaxRetries:      e.ActivationMaxRetries,
	}
}
