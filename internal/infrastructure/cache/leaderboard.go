package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	leaderboardKeyPrefix  = "leaderboard:"
	leaderboardVersionKey = "leaderboard_version"
)

// LeaderboardCache 排行榜快照缓存
// 读路径本身就是最终一致的快照，短 TTL 缓存不会破坏账本不变量；
// 转化与支付成功后主动失效
//
// 【关键点】快照按版本号存放。读方先取版本号再构建快照，失效只做 INCR；
// 构建期间发生的失效会让这份快照写进旧版本的 key，不会再被读到
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &LeaderboardCache{client: client, ttl: ttl}
}

func leaderboardKey(version int64, by string, limit int) string {
	return fmt.Sprintf("%sv%d:%s:%d", leaderboardKeyPrefix, version, by, limit)
}

// Version 当前快照版本，从未失效过时为 0
func (c *LeaderboardCache) Version(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}
	v, err := c.client.Get(ctx, leaderboardVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get 命中返回 true；nil 缓存总是未命中
func (c *LeaderboardCache) Get(ctx context.Context, version int64, by string, limit int, dest interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}
	raw, err := c.client.Get(ctx, leaderboardKey(version, by, limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set 写入 version 对应的快照，version 必须是构建快照之前读到的值
func (c *LeaderboardCache) Set(ctx context.Context, version int64, by string, limit int, value interface{}) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, leaderboardKey(version, by, limit), raw, c.ttl).Err()
}

// Invalidate 递增版本号，旧快照随 TTL 过期
func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Incr(ctx, leaderboardVersionKey).Err()
}
