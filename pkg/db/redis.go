package db

import (
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/iceymoss/go-discovery/pkg/config"
)

const DISCOVERY_RDB = "main"

var redisConn = make(map[string]*redis.Client)
var redisMutex sync.Mutex

// GetRedisConn 按配置懒加载 redis 客户端，同名连接复用
func GetRedisConn(cfg config.RedisConfig) (*redis.Client, error) {
	redisMutex.Lock()
	defer redisMutex.Unlock()

	if rdb, ok := redisConn[DISCOVERY_RDB]; ok {
		return rdb, nil
	}

	var opt *redis.Options
	if cfg.Url != "" {
		parsed, err := redis.ParseURL(cfg.Url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Username: cfg.User,
			Password: cfg.PassWord,
			DB:       cfg.DB,
		}
	}

	rdb := redis.NewClient(opt)
	redisConn[DISCOVERY_RDB] = rdb
	return rdb, nil
}
