package config

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedis dials REDIS_ADDRESS. With no address configured it is a no-op and
// GetRedisLock stays nil, which callers treat as "use in-process locking".
func ConnectRedis(ctx context.Context) error {
	if RedisAddress == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     RedisAddress,
		Password: RedisPassword,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return err
	}

	rdb = client
	locker = redislock.New(rdb)
	logg.WithField("address", RedisAddress).Info("connected to redis")
	return nil
}

func CloseRedis() {
	if rdb != nil {
		_ = rdb.Close()
	}
}
