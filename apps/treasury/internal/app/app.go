package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"stakex.com/apps/treasury/config"
	"stakex.com/apps/treasury/internal/api/handler"
	thttp "stakex.com/apps/treasury/internal/api/http"
	"stakex.com/apps/treasury/internal/core/service"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/apps/treasury/internal/infra/lock"
	"stakex.com/apps/treasury/internal/infra/persistence"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/metrics"
	"stakex.com/pkg/orm"
	"stakex.com/pkg/safe"
	"stakex.com/pkg/trace"
	"stakex.com/pkg/xredis"
)

const statsInterval = 5 * time.Second

type App struct {
	cfg           *config.Config
	db            *gorm.DB
	rdb           *redis.Client
	repo          *persistence.Repo
	clock         clockwork.Clock
	settings      service.Settings
	svc           handler.Services
	traceShutdown func(context.Context) error
}

// New 按配置装配：trace -> db -> (redis) -> 服务
// 失败时已经打开的资源会被关掉
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, clock: clockwork.NewRealClock(), settings: settings}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if cfg.Trace.Endpoint != "" {
		if a.traceShutdown, err = trace.InitTrace(ctx, cfg.Name, cfg.Trace.Endpoint); err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
	}

	if a.db, err = orm.Open(cfg.ORM()); err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.DB.AutoMigrate {
		if err = persistence.AutoMigrate(a.db); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	a.repo = persistence.New(a.db)

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	var members domain.MembershipDirectory
	if cfg.Treasury.UseMembershipDirectory {
		members = a.repo
	}
	scanner := service.NewScanner(a.repo, members, settings.Rates, a.clock)
	a.svc = handler.Services{
		Treasury:    service.NewTreasuryService(a.repo, a.repo, a.clock, settings),
		Scanner:     scanner,
		Distributor: service.NewDistributor(a.repo, a.repo, a.repo, scanner, locker, a.clock, settings),
		Reporter:    service.NewReporter(a.repo, a.repo, a.repo, scanner, locker, settings),
	}

	logger.Info(ctx, "✅ treasury app ready",
		zap.String("db", cfg.DB.Type),
		zap.String("lock", cfg.Lock.Backend),
		zap.Bool("membership_directory", members != nil))
	return a, nil
}

func (a *App) newLocker(ctx context.Context) (domain.BatchLocker, error) {
	switch a.cfg.Lock.Backend {
	case "", "ledger":
		return lock.NewLedgerLock(a.repo, a.clock, a.cfg.LockTTL()), nil
	case "redis":
		rdb, err := xredis.NewRedis(ctx, a.cfg.RedisOptions())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.rdb = rdb
		return lock.NewRedisLock(rdb, a.cfg.Lock.Key, a.cfg.LockTTL()), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", a.cfg.Lock.Backend)
	}
}

func (a *App) Services() handler.Services { return a.svc }

// Repo 给命令行登记质押、会员用
func (a *App) Repo() *persistence.Repo { return a.repo }

func (a *App) Settings() service.Settings { return a.settings }

// HTTPServer ctx 取消后限流 janitor 退出
func (a *App) HTTPServer(ctx context.Context) *http.Server {
	return thttp.NewServer(ctx, thttp.Options{
		Addr:        a.cfg.HTTP.Addr,
		ServiceName: a.cfg.Name,
		RateLimit:   a.cfg.HTTP.RateLimit,
		Burst:       a.cfg.HTTP.Burst,
	}, handler.NewTreasury(a.svc))
}

// StartObservers 后台采集连接池指标，ctx 取消后退出
func (a *App) StartObservers(ctx context.Context) {
	sqlDB, err := a.db.DB()
	if err != nil {
		logger.Warn(ctx, "⚠️ 拿不到 sql.DB，跳过连接池指标", zap.Error(err))
	} else {
		safe.GoCtx(ctx, "db-stats", func(ctx context.Context) error {
			return observeDBStats(ctx, sqlDB)
		}, nil)
	}
	if a.rdb != nil {
		safe.GoCtx(ctx, "redis-stats", func(ctx context.Context) error {
			return observeRedisStats(ctx, a.rdb)
		}, nil)
	}
}

// Close 可以重复调用
func (a *App) Close(ctx context.Context) {
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		a.db = nil
	}
	if a.traceShutdown != nil {
		if err := a.traceShutdown(ctx); err != nil {
			logger.Warn(ctx, "tracer shutdown failed", zap.Error(err))
		}
		a.traceShutdown = nil
	}
}

func observeDBStats(ctx context.Context, db *sql.DB) error {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	var lastWaitCount int64
	var lastWaitDuration time.Duration
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		st := db.Stats()
		metrics.DbPoolOpen.Set(float64(st.OpenConnections))
		metrics.DbPoolIdle.Set(float64(st.Idle))
		metrics.DbPoolInuse.Set(float64(st.InUse))

		if delta := st.WaitCount - lastWaitCount; delta > 0 {
			metrics.DbPoolWaitCount.Add(float64(delta))
			lastWaitCount = st.WaitCount
		}
		if delta := st.WaitDuration - lastWaitDuration; delta > 0 {
			metrics.DbPoolWaitDuration.Add(delta.Seconds())
			lastWaitDuration = st.WaitDuration
		}
	}
}

func observeRedisStats(ctx context.Context, rdb *redis.Client) error {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	var lastTimeouts uint32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		st := rdb.PoolStats()
		metrics.RedisPoolOpen.Set(float64(st.TotalConns))
		metrics.RedisPoolIdle.Set(float64(st.IdleConns))
		metrics.RedisPoolStale.Set(float64(st.StaleConns))

		if st.Timeouts > lastTimeouts {
			metrics.RedisPoolTimeouts.Add(float64(st.Timeouts - lastTimeouts))
			lastTimeouts = st.Timeouts
		}
	}
}
