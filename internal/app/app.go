// Package app wires storage, locking and settings from Config.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-patient-flow/internal/config"
	"github.com/hackgods/clinic-patient-flow/internal/db"
	"github.com/hackgods/clinic-patient-flow/internal/queue"
	redisclient "github.com/hackgods/clinic-patient-flow/internal/redis"
	"github.com/hackgods/clinic-patient-flow/internal/settings"
)

type App struct {
	Config   config.Config
	PgPool   *pgxpool.Pool // nil with STORE=memory
	Redis    *redis.Client // nil when nothing needs Redis
	Repo     queue.Repository
	Settings settings.Provider
	Writer   settings.Writer
	Service  *queue.Service
}

// New connects the configured backends and builds the queue service.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	var src settings.Source
	switch cfg.Store {
	case "memory":
		log.Println("using in-memory store")
		a.Repo = queue.NewMemoryRepository()
		src = settings.NewMemorySource()
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 0)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.PgPool = pool
		log.Println("connected to Postgres")

		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.Repo = queue.NewPgRepository(pool)
		src = settings.NewPgSource(pool)
	}

	if cfg.UsesRedis() {
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.Redis = rdb
		log.Println("connected to Redis")
	}

	if a.Redis != nil && cfg.Store == "postgres" && cfg.SettingsCacheTTL > 0 {
		src = redisclient.NewCachedSource(a.Redis, src, cfg.SettingsCacheTTL)
	}
	a.Settings = settings.NewStore(src)
	a.Writer, _ = src.(settings.Writer)

	var locker redisclient.Locker = queue.NewLocalLocker()
	if cfg.LockBackend == "redis" {
		locker = redisclient.NewRedisQueueLocker(a.Redis, cfg.LockTTL, cfg.LockWait)
	}

	a.Service = queue.NewService(a.Repo, locker, a.Settings)
	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
}
