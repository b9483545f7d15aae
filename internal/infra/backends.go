package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vtu-pay/vtu_pay/internal/config"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

// Backends holds the persistence chosen by STORAGE_DRIVER plus any shared
// connections. DB and Cache are nil when not configured.
type Backends struct {
	Store storage.Store
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// Open connects whatever cfg asks for. Redis is dialled whenever REDIS_URL is
// set, even with another storage driver, because idempotency and the event
// relay live there.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			return nil, err
		}
		b.Cache = cache
	}

	switch cfg.StorageDriver {
	case config.StorageMemory:
		b.Store = storage.NewMemory()
	case config.StorageRedis:
		b.Store = storage.NewRedis(b.Cache)
	case config.StoragePostgres:
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			b.Close(logger)
			return nil, err
		}
		b.DB = db
		store, err := storage.NewPostgres(ctx, db)
		if err != nil {
			b.Close(logger)
			return nil, err
		}
		b.Store = store
	default:
		b.Close(logger)
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	logger.Info("storage ready",
		slog.String("driver", cfg.StorageDriver),
		slog.Bool("redis", b.Cache != nil),
	)
	return b, nil
}

// Close releases every open connection.
func (b *Backends) Close(logger *slog.Logger) {
	if b.DB != nil {
		b.DB.Close()
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logger.Warn("close redis", slog.Any("error", err))
		}
	}
}
