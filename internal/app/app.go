// Package app 按配置组装仓储、协作方与编排器，供 apiserver 和 worker 共用
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"khaacho/dispatch/internal/business/healing"
	"khaacho/dispatch/internal/business/inventory"
	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/config"
	"khaacho/dispatch/pkg/infra/kafka"
	"khaacho/dispatch/pkg/infra/mysql"
	"khaacho/dispatch/pkg/infra/redis"
	"khaacho/dispatch/pkg/lmstfy"
	"khaacho/dispatch/pkg/logger"
)

// App 组装好的组件
type App struct {
	Config       *config.Config
	Logger       logger.Logger
	Store        repo.Store
	Recovery     *recovery.Store
	Orchestrator *routing.Orchestrator
	Monitor      *healing.Monitor
	Lmstfy       *lmstfy.Client  // 未配置 lmstfy 时为 nil
	Redis        *goredis.Client // 未配置 redis 时为 nil

	closers []func() error
}

// Collaborators 外部协作方
type Collaborators struct {
	Notifier collab.NotificationSender
	Ledger   collab.CreditLedger
	Admin    collab.AdminNotificationSink
}

// New 连接 MySQL/Redis/lmstfy/Kafka 并组装
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	// 1. MySQL
	db, err := mysql.Open(mysql.Options{
		DSN:             cfg.MySQL.DSN,
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		Tracing:         cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, err
	}
	store := mysql.NewStore(db)
	a.closers = append(a.closers, store.Close)
	if cfg.MySQL.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	// 2. Redis（可选）
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	// 3. lmstfy（可选）
	if cfg.Lmstfy.Host != "" {
		cli, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Lmstfy = cli
	}

	// 4. 协作方
	collabs := Collaborators{Ledger: mysql.NewLedger(db)}
	if a.Redis != nil {
		collabs.Admin = redis.NewAdminPublisher(a.Redis, cfg.Redis.AdminChannel)
	} else {
		collabs.Admin = NewLogSink(log)
	}
	switch cfg.Notification.Driver {
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Timeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		collabs.Notifier = producer
	default:
		if a.Lmstfy == nil {
			a.Close()
			return nil, errors.New("notification driver lmstfy requires lmstfy.host")
		}
		collabs.Notifier = lmstfy.NewVendorNotifier(a.Lmstfy, cfg.Notification.Queue)
	}

	if err := a.assemble(store, collabs, time.Now); err != nil {
		a.Close()
		return nil, err
	}
	log.Infof(ctx, "[App] assembled: notification=%s, redis=%t, lmstfy=%t, tracing=%t",
		cfg.Notification.Driver, a.Redis != nil, a.Lmstfy != nil, cfg.Tracing.Enabled)
	return a, nil
}

// NewWithStore 用现成的仓储和协作方组装（测试与内存部署）
func NewWithStore(cfg *config.Config, store repo.Store, collabs Collaborators, now func() time.Time, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	if collabs.Admin == nil {
		collabs.Admin = NewLogSink(log)
	}
	if err := a.assemble(store, collabs, now); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) assemble(store repo.Store, collabs Collaborators, now func() time.Time) error {
	cfg := a.Config
	if collabs.Notifier == nil || collabs.Ledger == nil {
		return errors.New("notifier and ledger are required")
	}

	weights := WeightsFromConfig(cfg.Scoring)
	scorer, err := routing.NewScorer(weights)
	if err != nil {
		return err
	}
	balancer, err := routing.NewBalancer(BalancerFromConfig(cfg.Balancer), store, now)
	if err != nil {
		return err
	}

	a.Store = store
	a.Recovery = recovery.NewStore(store, cfg.Routing.IdempotencyTTL, now)
	scores := routing.NewScoreBook(store, scorer, now)
	stock := inventory.NewService(store)

	a.Orchestrator, err = routing.NewOrchestrator(RoutingFromConfig(cfg.Routing), routing.Deps{
		Store:     store,
		Recovery:  a.Recovery,
		Resolver:  routing.NewResolver(store),
		Scorer:    scorer,
		ScoreBook: scores,
		Balancer:  balancer,
		Notifier:  collabs.Notifier,
		Inventory: stock,
		Ledger:    collabs.Ledger,
		Admin:     collabs.Admin,
		Logger:    a.Logger,
	})
	if err != nil {
		return err
	}

	a.Monitor = healing.NewMonitor(HealingFromConfig(cfg.Healing), store, a.Recovery, scores, a.Orchestrator,
		stock, collabs.Admin, a.Logger)
	return nil
}

// Close 逆序释放连接
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warnf(context.Background(), "[App] close failed: %v", err)
		}
	}
	a.closers = nil
}

// RoutingFromConfig 编排配置
func RoutingFromConfig(c config.RoutingConfig) routing.Config {
	def := routing.DefaultConfig()
	out := routing.Config{
		ResponseDeadline:    time.Duration(c.ResponseDeadlineMinutes) * time.Minute,
		MaxAttempts:         c.MaxAttempts,
		HeartbeatStaleness:  time.Duration(c.HeartbeatStaleMinutes) * time.Minute,
		CapacityBackoffBase: c.CapacityBackoffBase,
		CapacityBackoffMax:  c.CapacityBackoffMax,
		MaxCapacityBackoffs: c.MaxCapacityBackoffs,
		SweepBatch:          c.SweepBatch,
	}
	if out.ResponseDeadline <= 0 {
		out.ResponseDeadline = def.ResponseDeadline
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.HeartbeatStaleness <= 0 {
		out.HeartbeatStaleness = def.HeartbeatStaleness
	}
	if out.CapacityBackoffBase <= 0 {
		out.CapacityBackoffBase = def.CapacityBackoffBase
	}
	if out.CapacityBackoffMax <= 0 {
		out.CapacityBackoffMax = def.CapacityBackoffMax
	}
	if out.MaxCapacityBackoffs <= 0 {
		out.MaxCapacityBackoffs = def.MaxCapacityBackoffs
	}
	return out
}

// BalancerFromConfig 负载均衡配置
func BalancerFromConfig(c config.BalancerConfig) routing.BalancerConfig {
	return routing.BalancerConfig{
		Strategy:          routing.Strategy(c.Strategy),
		MaxActiveOrders:   c.MaxActiveOrders,
		MaxPendingOrders:  c.MaxPendingOrders,
		MonopolyThreshold: c.MonopolyThreshold,
		MonopolyWindow:    time.Duration(c.MonopolyWindowDays) * 24 * time.Hour,
		WorkingHours: routing.WorkingHours{
			Enabled:   c.WorkingHours.Enabled,
			StartHour: c.WorkingHours.StartHour,
			EndHour:   c.WorkingHours.EndHour,
		},
	}
}

// WeightsFromConfig 评分权重
func WeightsFromConfig(c config.ScoringConfig) routing.Weights {
	return routing.Weights{
		Reliability:     c.Reliability,
		DeliverySuccess: c.DeliverySuccess,
		ResponseSpeed:   c.ResponseSpeed,
		Price:           c.Price,
	}
}

// HealingFromConfig 自愈配置
func HealingFromConfig(c config.HealingConfig) healing.Config {
	return healing.Config{
		StuckAssignment:       time.Duration(c.StuckAssignmentMinutes) * time.Minute,
		RepeatedTimeouts:      c.RepeatedTimeouts,
		StuckFulfillment:      time.Duration(c.StuckFulfillmentHours) * time.Hour,
		StuckPendingRecovery:  time.Duration(c.StuckPendingRecoveryMinutes) * time.Minute,
		StuckPendingOrder:     time.Duration(c.StuckPendingOrderMinutes) * time.Minute,
		AbandonedPendingOrder: time.Duration(c.AbandonedPendingHours) * time.Hour,
		StaleHeartbeatMinutes: c.StaleHeartbeatMinutes,
		StuckEventMinutes:     c.StuckEventMinutes,
		MaxRetries:            c.MaxRetries,
		BatchSize:             c.BatchSize,
	}
}

// LogSink 未配置 Redis 时的运营告警出口，只写日志
type LogSink struct {
	logger logger.Logger
}

// NewLogSink 创建日志告警出口
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

// Notify 实现 collab.AdminNotificationSink
func (s *LogSink) Notify(ctx context.Context, event *collab.AdminEvent) error {
	s.logger.Warnf(logger.WithOrderID(ctx, event.OrderID), "[AdminAlert] %s severity=%s: %s details=%v",
		event.Type, event.Severity, event.Message, event.Details)
	return nil
}
