package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/upb/auth-bridge/config"
	"go.uber.org/zap"
)

// NewStore builds the store selected by AUTH_BRIDGE_CACHE_STORE
func NewStore(cfg config.CacheConfig, redisCfg config.RedisConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Store {
	case config.CacheStoreMemory, "":
		logger.Info("auth cache store configured", zap.String("store", config.CacheStoreMemory), zap.Int("size", cfg.Size))
		return NewMemoryStore(cfg.Size)
	case config.CacheStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		logger.Info("auth cache store configured", zap.String("store", config.CacheStoreRedis), zap.String("addr", redisCfg.Addr))
		return NewRedisStore(client, redisCfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unsupported cache store %q", cfg.Store)
	}
}
