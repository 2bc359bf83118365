package main

import (
	"fmt"
	"os"
	"time"

	"eventflyer/internal/common/cache"
	"eventflyer/internal/common/db"
	commonmw "eventflyer/internal/common/http/middleware"
	"eventflyer/internal/common/mq"
	"eventflyer/internal/common/schedule"
	"eventflyer/internal/common/storage"
	"eventflyer/internal/flyer/repository"
	"eventflyer/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	defaultCleanupSchedule  = "every 24 hours"
	defaultRetention        = 14 * 24 * time.Hour
	defaultRecordTimeout    = 30 * time.Second
	defaultCleanupLockTTL   = 10 * time.Minute
	defaultNotificationType = "kafka"
)

const (
	driverMySQL     = "mysql"
	driverDatastore = "datastore"
	driverMinIO     = "minio"
	driverGCS       = "gcs"
	driverKafka     = "kafka"
	driverPubSub    = "pubsub"
	driverNone      = "none"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	CORS commonmw.CORSConfig `yaml:"cors"`
	// OperatorRateLimit guards the manual sweep and attach endpoints.
	OperatorRateLimit commonmw.RateLimitConfig `yaml:"operatorRateLimit"`
}

// AppConfig holds the flyer-service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	Logger logger.Config `yaml:"logger"`

	Store         StoreConfig        `yaml:"store"`
	Redis         cache.RedisConfig  `yaml:"redis"`
	Objects       ObjectsConfig      `yaml:"objects"`
	Notifications NotificationConfig `yaml:"notifications"`
	Flyer         FlyerConfig        `yaml:"flyer"`
	Cleanup       CleanupConfig      `yaml:"cleanup"`
}

// StoreConfig selects the event record store.
type StoreConfig struct {
	Driver    string                     `yaml:"driver"`
	MySQL     db.MySQLConfig             `yaml:"mysql"`
	Datastore repository.DatastoreConfig `yaml:"datastore"`
}

// ObjectsConfig selects the object store holding flyer images.
type ObjectsConfig struct {
	Driver string              `yaml:"driver"`
	Bucket string              `yaml:"bucket"`
	MinIO  storage.MinIOConfig `yaml:"minio"`
	GCS    storage.GCSConfig   `yaml:"gcs"`
}

// NotificationConfig selects where object-finalized notifications come from.
type NotificationConfig struct {
	Driver        string          `yaml:"driver"`
	Topic         string          `yaml:"topic"`
	ConsumerGroup string          `yaml:"consumerGroup"`
	Concurrency   int             `yaml:"concurrency"`
	MaxRetries    int             `yaml:"maxRetries"`
	RetryDelay    time.Duration   `yaml:"retryDelay"`
	DeadLetter    string          `yaml:"deadLetterTopic"`
	Kafka         mq.KafkaConfig  `yaml:"kafka"`
	PubSub        mq.PubSubConfig `yaml:"pubsub"`
}

// FlyerConfig holds attachment settings.
type FlyerConfig struct {
	// URLTTL is the requested read URL lifetime; 0 asks the backend for its longest.
	URLTTL time.Duration `yaml:"urlTTL"`
}

// CleanupConfig holds sweep settings.
type CleanupConfig struct {
	Schedule      string        `yaml:"schedule"`
	Retention     time.Duration `yaml:"retention"`
	Concurrency   int           `yaml:"concurrency"`
	RecordTimeout time.Duration `yaml:"recordTimeout"`
	LockTTL       time.Duration `yaml:"lockTTL"`
}

func (c NotificationConfig) enabled() bool {
	return c.Driver != driverNone
}

func (c NotificationConfig) toSubscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: c.DeadLetter,
	}
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

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = driverMySQL
	}
	switch cfg.Store.Driver {
	case driverMySQL:
		if cfg.Store.MySQL.DSN == "" {
			return nil, fmt.Errorf("store.mysql.dsn is required")
		}
	case driverDatastore:
		if cfg.Store.Datastore.ProjectID == "" {
			return nil, fmt.Errorf("store.datastore.projectID is required")
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	applyRedisDefaults(&cfg.Redis)

	if cfg.Objects.Driver == "" {
		cfg.Objects.Driver = driverMinIO
	}
	switch cfg.Objects.Driver {
	case driverMinIO:
		if cfg.Objects.Bucket == "" {
			cfg.Objects.Bucket = cfg.Objects.MinIO.Bucket
		}
	case driverGCS:
		if cfg.Objects.Bucket == "" {
			cfg.Objects.Bucket = cfg.Objects.GCS.Bucket
		}
	default:
		return nil, fmt.Errorf("unknown objects driver %q", cfg.Objects.Driver)
	}
	if cfg.Objects.Bucket == "" {
		return nil, fmt.Errorf("objects bucket is required")
	}

	if cfg.Notifications.Driver == "" {
		cfg.Notifications.Driver = defaultNotificationType
	}
	switch cfg.Notifications.Driver {
	case driverKafka, driverPubSub:
		if cfg.Notifications.Topic == "" {
			return nil, fmt.Errorf("notifications.topic is required")
		}
		if cfg.Notifications.Driver == driverPubSub {
			// consumerGroup and pubsub.subscription name the same thing.
			if cfg.Notifications.ConsumerGroup == "" {
				cfg.Notifications.ConsumerGroup = cfg.Notifications.PubSub.Subscription
			}
			if cfg.Notifications.PubSub.Subscription == "" {
				cfg.Notifications.PubSub.Subscription = cfg.Notifications.ConsumerGroup
			}
		}
	case driverNone:
	default:
		return nil, fmt.Errorf("unknown notifications driver %q", cfg.Notifications.Driver)
	}

	if cfg.Flyer.URLTTL < 0 {
		return nil, fmt.Errorf("flyer.urlTTL must not be negative")
	}

	if cfg.Cleanup.Schedule == "" {
		cfg.Cleanup.Schedule = defaultCleanupSchedule
	}
	if _, err := schedule.Parse(cfg.Cleanup.Schedule); err != nil {
		return nil, fmt.Errorf("cleanup.schedule: %w", err)
	}
	if cfg.Cleanup.Retention == 0 {
		cfg.Cleanup.Retention = defaultRetention
	}
	if cfg.Cleanup.Concurrency < 0 {
		cfg.Cleanup.Concurrency = 0
	}
	if cfg.Cleanup.RecordTimeout == 0 {
		cfg.Cleanup.RecordTimeout = defaultRecordTimeout
	}
	if cfg.Cleanup.LockTTL == 0 {
		cfg.Cleanup.LockTTL = defaultCleanupLockTTL
	}

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

	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}
