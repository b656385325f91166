package kvstore

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/botledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("kvstore",
	fx.Provide(NewRedisClient),
	fx.Provide(NewStore),
)

// NewRedisClient returns nil when the memory backend is selected.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) redis.UniversalClient {
	if cfg.Redis.Backend == "memory" {
		return nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
			}
			log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewStore(cfg config.Config, client redis.UniversalClient, log *zap.Logger) (Store, error) {
	switch cfg.Redis.Backend {
	case "", "redis":
		if client == nil {
			return nil, fmt.Errorf("redis backend selected without a client")
		}
		return NewRedisStore(client), nil
	case "memory":
		log.Warn("using in-memory key-value store; schedules will not survive restarts")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported kv backend %q", cfg.Redis.Backend)
	}
}
