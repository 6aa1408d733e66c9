// Package mysql 基于 gorm 的 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// 唯一键冲突错误码
const errDuplicateEntry = 1062

// Options 连接池配置
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
	Tracing         bool // 安装 otelgorm 插件
}

// Open 打开数据库连接
func Open(opts Options) (*gorm.DB, error) {
	slow := opts.SlowThreshold
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	db, err := gorm.Open(mysql.Open(opts.DSN), &gorm.Config{
		Logger: gormlogger.New(stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags), gormlogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if opts.Tracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to install otelgorm plugin: %w", err)
		}
	}
	return db, nil
}

// Store MySQL 仓储
type Store struct {
	db *gorm.DB
}

// NewStore 创建 MySQL 仓储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate 建表
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(entity.Models()...)
}

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction 在单个数据库事务中执行 fn
func (s *Store) Transaction(ctx context.Context, fn func(tx repo.Repos) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *Store) Vendors() repo.VendorRepository { return (*vendorRepo)(s) }
func (s *Store) Scores() repo.VendorScoreRepository { return (*scoreRepo)(s) }
func (s *Store) Orders() repo.OrderRepository { return (*orderRepo)(s) }
func (s *Store) Retries() repo.AssignmentRetryRepository { return (*retryRepo)(s) }
func (s *Store) Workflows() repo.WorkflowRepository { return (*workflowRepo)(s) }
func (s *Store) Idempotency() repo.IdempotencyRepository { return (*idempotencyRepo)(s) }
func (s *Store) Healing() repo.HealingRepository { return (*healingRepo)(s) }
func (s *Store) Recoveries() repo.OrderRecoveryRepository { return (*recoveryRepo)(s) }
func (s *Store) RoutingLogs() repo.RoutingLogRepository { return (*routingLogRepo)(s) }
func (s *Store) Cursors() repo.CursorRepository { return (*cursorRepo)(s) }
func (s *Store) Events() repo.RoutingEventRepository { return (*eventRepo)(s) }

var _ repo.Store = (*Store)(nil)

// isDuplicate 是否唯一键冲突；index 非空时要求冲突发生在该索引上
func isDuplicate(err error, index string) bool {
	var mysqlErr *gomysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != errDuplicateEntry {
		return errors.Is(err, gorm.ErrDuplicatedKey)
	}
	return index == "" || strings.Contains(mysqlErr.Message, index)
}

// notFound 统一记录不存在错误
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.ErrNotFound
	}
	return err
}

// forUpdate 事务内行锁
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func limitOf(db *gorm.DB, limit int) *gorm.DB {
	if limit > 0 {
		return db.Limit(limit)
	}
	return db
}
