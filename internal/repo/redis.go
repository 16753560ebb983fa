package repo

import (
	"context"

	"github.com/Kmccabe/bTree-sub000/internal/config"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var RDB *redis.Client

// InitRedis connects the payout hand-off queue. Disabled deployments run the
// coordinator without it.
func InitRedis() {
	conf := config.GlobalConfig.Redis
	if !conf.Enabled {
		logger.Log.Info("redis disabled, payout hand-off will only be broadcast")
		return
	}

	RDB = redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	_, err := RDB.Ping(context.Background()).Result()
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
}
