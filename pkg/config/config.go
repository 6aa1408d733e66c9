package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 DISPATCH_MYSQL_DSN 覆盖 mysql.dsn
const EnvPrefix = "DISPATCH"

// Config 全局配置
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	MySQL        MySQLConfig        `mapstructure:"mysql"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Lmstfy       LmstfyConfig       `mapstructure:"lmstfy"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Notification NotificationConfig `mapstructure:"notification"`
	Workers      []WorkerConfig     `mapstructure:"workers"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Routing      RoutingConfig      `mapstructure:"routing"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Balancer     BalancerConfig     `mapstructure:"balancer"`
	Healing      HealingConfig      `mapstructure:"healing"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	AdminChannel string `mapstructure:"admin_channel"` // 运营告警频道
	LockPrefix   string `mapstructure:"lock_prefix"`
}

// LmstfyConfig Lmstfy 配置
type LmstfyConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Namespace   string `mapstructure:"namespace"`
	Token       string `mapstructure:"token"`
	RoutingJobs string `mapstructure:"routing_jobs"` // 路由任务队列（API 投递）
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers string        `mapstructure:"brokers"` // 逗号分隔
	Topic   string        `mapstructure:"topic"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NotificationConfig 供应商通知配置
type NotificationConfig struct {
	Driver string `mapstructure:"driver"` // lmstfy | kafka
	Queue  string `mapstructure:"queue"`  // lmstfy 通知队列
}

// WorkerConfig Worker 配置
type WorkerConfig struct {
	Name       string           `mapstructure:"name"`
	QueueName  string           `mapstructure:"queue_name"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	Threads      int           `mapstructure:"threads"`       // 并发拉取数
	Rate         time.Duration `mapstructure:"rate"`          // 拉取速率
	Timeout      time.Duration `mapstructure:"timeout"`       // 拉取超时
	TTR          time.Duration `mapstructure:"ttr"`           // Time-To-Run
	ErrorBackoff time.Duration `mapstructure:"error_backoff"` // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Threads    int           `mapstructure:"threads"`     // 并发处理数
	BufferSize int           `mapstructure:"buffer_size"` // Channel 缓冲大小
	Timeout    time.Duration `mapstructure:"timeout"`     // 单个任务超时
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	TimeoutSweepInterval time.Duration `mapstructure:"timeout_sweep_interval"`
	HealingInterval      time.Duration `mapstructure:"healing_interval"`
	PurgeInterval        time.Duration `mapstructure:"purge_interval"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
}

// RoutingConfig 路由编排配置
type RoutingConfig struct {
	ResponseDeadlineMinutes int           `mapstructure:"response_deadline_minutes"`
	MaxAttempts             int           `mapstructure:"max_attempts"`
	HeartbeatStaleMinutes   int           `mapstructure:"heartbeat_stale_minutes"`
	CapacityBackoffBase     time.Duration `mapstructure:"capacity_backoff_base"`
	CapacityBackoffMax      time.Duration `mapstructure:"capacity_backoff_max"`
	MaxCapacityBackoffs     int           `mapstructure:"max_capacity_backoffs"`
	SweepBatch              int           `mapstructure:"sweep_batch"`
	IdempotencyTTL          time.Duration `mapstructure:"idempotency_ttl"`
}

// ScoringConfig 评分权重
type ScoringConfig struct {
	Reliability     float64 `mapstructure:"reliability"`
	DeliverySuccess float64 `mapstructure:"delivery_success"`
	ResponseSpeed   float64 `mapstructure:"response_speed"`
	Price           float64 `mapstructure:"price"`
}

// BalancerConfig 负载均衡配置
type BalancerConfig struct {
	Strategy           string  `mapstructure:"strategy"`
	MaxActiveOrders    int     `mapstructure:"max_active_orders"`
	MaxPendingOrders   int     `mapstructure:"max_pending_orders"`
	MonopolyThreshold  float64 `mapstructure:"monopoly_threshold"`
	MonopolyWindowDays int     `mapstructure:"monopoly_window_days"`
	WorkingHours       struct {
		Enabled   bool `mapstructure:"enabled"`
		StartHour int  `mapstructure:"start_hour"`
		EndHour   int  `mapstructure:"end_hour"`
	} `mapstructure:"working_hours"`
}

// HealingConfig 自愈配置
type HealingConfig struct {
	StuckAssignmentMinutes      int `mapstructure:"stuck_assignment_minutes"`
	RepeatedTimeouts            int `mapstructure:"repeated_timeouts"`
	StuckFulfillmentHours       int `mapstructure:"stuck_fulfillment_hours"`
	StuckPendingRecoveryMinutes int `mapstructure:"stuck_pending_recovery_minutes"`
	StuckPendingOrderMinutes    int `mapstructure:"stuck_pending_order_minutes"`
	AbandonedPendingHours       int `mapstructure:"abandoned_pending_hours"`
	StaleHeartbeatMinutes       int `mapstructure:"stale_heartbeat_minutes"`
	StuckEventMinutes           int `mapstructure:"stuck_event_minutes"`
	MaxRetries                  int `mapstructure:"max_retries"`
	BatchSize                   int `mapstructure:"batch_size"`
}

// TracingConfig 链路追踪
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// setDefaults 默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "khaacho-dispatch")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// 无默认值的键也要登记，AutomaticEnv 才能在 Unmarshal 时生效
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.auto_migrate", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("lmstfy.host", "")
	v.SetDefault("lmstfy.port", 7777)
	v.SetDefault("lmstfy.namespace", "")
	v.SetDefault("lmstfy.token", "")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "")
	v.SetDefault("tracing.enabled", false)

	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 25)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.admin_channel", "dispatch:admin_alerts")
	v.SetDefault("redis.lock_prefix", "dispatch:lock:")

	v.SetDefault("lmstfy.routing_jobs", "dispatch_routing")
	v.SetDefault("kafka.timeout", 3*time.Second)
	v.SetDefault("notification.driver", "lmstfy")
	v.SetDefault("notification.queue", "vendor_notifications")

	v.SetDefault("scheduler.timeout_sweep_interval", time.Minute)
	v.SetDefault("scheduler.healing_interval", 5*time.Minute)
	v.SetDefault("scheduler.purge_interval", time.Hour)
	v.SetDefault("scheduler.lock_ttl", 2*time.Minute)

	v.SetDefault("routing.response_deadline_minutes", 120)
	v.SetDefault("routing.max_attempts", 5)
	v.SetDefault("routing.heartbeat_stale_minutes", 5)
	v.SetDefault("routing.capacity_backoff_base", 2*time.Minute)
	v.SetDefault("routing.capacity_backoff_max", 30*time.Minute)
	v.SetDefault("routing.max_capacity_backoffs", 6)
	v.SetDefault("routing.sweep_batch", 100)
	v.SetDefault("routing.idempotency_ttl", 24*time.Hour)

	v.SetDefault("scoring.reliability", 0.35)
	v.SetDefault("scoring.delivery_success", 0.30)
	v.SetDefault("scoring.response_speed", 0.20)
	v.SetDefault("scoring.price", 0.15)

	v.SetDefault("balancer.strategy", "least_loaded")
	v.SetDefault("balancer.max_active_orders", 10)
	v.SetDefault("balancer.max_pending_orders", 5)
	v.SetDefault("balancer.monopoly_threshold", 0.40)
	v.SetDefault("balancer.monopoly_window_days", 30)
	v.SetDefault("balancer.working_hours.enabled", true)
	v.SetDefault("balancer.working_hours.start_hour", 8)
	v.SetDefault("balancer.working_hours.end_hour", 20)

	v.SetDefault("healing.stuck_assignment_minutes", 180)
	v.SetDefault("healing.repeated_timeouts", 3)
	v.SetDefault("healing.stuck_fulfillment_hours", 24)
	v.SetDefault("healing.stuck_pending_recovery_minutes", 60)
	v.SetDefault("healing.stuck_pending_order_minutes", 30)
	v.SetDefault("healing.abandoned_pending_hours", 48)
	v.SetDefault("healing.stale_heartbeat_minutes", 5)
	v.SetDefault("healing.stuck_event_minutes", 5)
	v.SetDefault("healing.max_retries", 3)
	v.SetDefault("healing.batch_size", 100)
}

// Load 加载配置文件
// .env 存在时先载入环境变量；DISPATCH_ 前缀的环境变量覆盖文件中的值
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if c.Routing.MaxAttempts <= 0 {
		return fmt.Errorf("routing.max_attempts must be positive")
	}
	if c.Routing.ResponseDeadlineMinutes <= 0 {
		return fmt.Errorf("routing.response_deadline_minutes must be positive")
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	switch c.Balancer.Strategy {
	case "least_loaded", "round_robin":
	default:
		return fmt.Errorf("balancer.strategy %q is not supported", c.Balancer.Strategy)
	}
	if c.Balancer.MonopolyThreshold <= 0 || c.Balancer.MonopolyThreshold > 1 {
		return fmt.Errorf("balancer.monopoly_threshold must be in (0, 1]")
	}
	wh := c.Balancer.WorkingHours
	if wh.Enabled && (wh.StartHour < 0 || wh.StartHour > 23 || wh.EndHour < 0 || wh.EndHour > 24 || wh.StartHour == wh.EndHour) {
		return fmt.Errorf("balancer.working_hours %d-%d is invalid", wh.StartHour, wh.EndHour)
	}
	switch c.Notification.Driver {
	case "lmstfy":
		if c.Notification.Queue == "" {
			return fmt.Errorf("notification.queue is required for lmstfy driver")
		}
	case "kafka":
		if c.Kafka.Brokers == "" || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required for kafka driver")
		}
	default:
		return fmt.Errorf("notification.driver %q is not supported", c.Notification.Driver)
	}
	return nil
}

// ValidateWorker worker 进程额外校验
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Lmstfy.Host == "" {
		return fmt.Errorf("lmstfy.host is required")
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	for _, w := range c.Workers {
		if w.Name == "" || w.QueueName == "" {
			return fmt.Errorf("worker name and queue_name are required")
		}
		if w.Subscriber.Threads <= 0 || w.Processor.Threads <= 0 {
			return fmt.Errorf("worker %s: subscriber and processor threads must be positive", w.Name)
		}
	}
	return nil
}

// Validate 四项权重非负且和为 1（误差 0.01）
func (s ScoringConfig) Validate() error {
	for _, w := range []float64{s.Reliability, s.DeliverySuccess, s.ResponseSpeed, s.Price} {
		if w < 0 {
			return errors.New("scoring weights must be non-negative")
		}
	}
	sum := s.Reliability + s.DeliverySuccess + s.ResponseSpeed + s.Price
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("scoring weights must sum to 1, got %.4f", sum)
	}
	return nil
}
