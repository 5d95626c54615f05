package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	QueueKafka = "kafka"
	QueueRedis = "redis"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"flash_sale.db"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// 队列后端：kafka（默认）或 redis（Redis Stream）
	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"kafka"`

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"flash-sale-orders"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"flash-sale-order-consumer"`

	// Redis Stream 队列
	OrderStream         string `env:"ORDER_STREAM" envDefault:"flash_sale:order_events"`
	OrderStreamGroup    string `env:"ORDER_STREAM_GROUP" envDefault:"flash-sale-fulfillment"`
	OrderStreamConsumer string `env:"ORDER_STREAM_CONSUMER" envDefault:"flash-sale-worker-1"`

	// 履约 worker 数
	Workers int `env:"WORKERS" envDefault:"4"`

	// 秒杀路径与验证码
	PathSecret string        `env:"PATH_SECRET" envDefault:"flash-sale-path-secret"`
	PathTTL    time.Duration `env:"PATH_TTL" envDefault:"60s"`
	VerifyTTL  time.Duration `env:"VERIFY_TTL" envDefault:"300s"`

	StockCacheTTL time.Duration `env:"STOCK_CACHE_TTL" envDefault:"24h"`
	OrderIndexTTL time.Duration `env:"ORDER_INDEX_TTL" envDefault:"24h"`

	// 建单分布式锁：作为唯一索引之外的兜底
	MaterializerLock bool          `env:"MATERIALIZER_LOCK" envDefault:"true"`
	LockTTL          time.Duration `env:"LOCK_TTL" envDefault:"3s"`

	// 进程内削峰（令牌桶），0 表示关闭
	ShedRPS   float64 `env:"SHED_RPS" envDefault:"0"`
	ShedBurst int     `env:"SHED_BURST" envDefault:"1000"`

	AccessPolicyFile string `env:"ACCESS_POLICY_FILE"`

	// 管理接口的简单令牌（demo 级别保护）
	AdminToken string `env:"ADMIN_TOKEN" envDefault:"dev-admin-token"`

	// snowflake 节点号，多实例部署时需各不相同
	NodeID int64 `env:"NODE_ID" envDefault:"1"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	Policies Policies
}

// Load 读取 .env（若存在）与环境变量，并做校验。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Policies = DefaultPolicies()
	if cfg.AccessPolicyFile != "" {
		overrides, err := LoadPolicies(cfg.AccessPolicyFile)
		if err != nil {
			return AppConfig{}, err
		}
		cfg.Policies = cfg.Policies.Merge(overrides)
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 校验取值范围，错误信息直接指向环境变量名。
func (c AppConfig) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid DB_DRIVER %q", c.DBDriver)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}

	switch c.QueueBackend {
	case QueueKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if c.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
	case QueueRedis:
		if c.OrderStream == "" {
			return fmt.Errorf("ORDER_STREAM must not be empty")
		}
		if c.OrderStreamGroup == "" {
			return fmt.Errorf("ORDER_STREAM_GROUP must not be empty")
		}
		if c.OrderStreamConsumer == "" {
			return fmt.Errorf("ORDER_STREAM_CONSUMER must not be empty")
		}
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q", c.QueueBackend)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be > 0")
	}
	if c.PathSecret == "" {
		return fmt.Errorf("PATH_SECRET must not be empty")
	}
	if c.PathTTL <= 0 || c.VerifyTTL <= 0 {
		return fmt.Errorf("PATH_TTL and VERIFY_TTL must be > 0")
	}
	if c.StockCacheTTL <= 0 || c.OrderIndexTTL <= 0 {
		return fmt.Errorf("STOCK_CACHE_TTL and ORDER_INDEX_TTL must be > 0")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be > 0")
	}
	if c.ShedRPS < 0 || c.ShedBurst <= 0 {
		return fmt.Errorf("SHED_RPS must be >= 0 and SHED_BURST > 0")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be within [0, 1023]")
	}
	return c.Policies.Validate()
}
