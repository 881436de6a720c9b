package repository

import (
	"context"
	stderrors "errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/wfunc/trpg-master/internal/config"
	"github.com/wfunc/trpg-master/internal/errors"
)

// RedisCache 基于Redis的缓存
type RedisCache struct {
	rdb *goredis.Client
}

// NewRedisCache 连接Redis并检查可用性
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, errors.ErrCacheUnavailable, "redis ping")
	}
	return &RedisCache{rdb: rdb}, nil
}

// Get 读取缓存
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, errors.New(errors.ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCacheUnavailable)
	}
	return raw, nil
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCacheUnavailable)
	}
	return nil
}

// Del 删除缓存
func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCacheUnavailable)
	}
	return nil
}

// Close 关闭连接
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
