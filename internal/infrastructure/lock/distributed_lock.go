package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 【在账本里的定位】
//
// 锁只用来削峰：管理员重复点击"转化" / "标记支付"时，第二个请求在 Redis
// 这一层就被挡住，不会打到数据库。真正保证"一个线索只有一笔流水"的是
// lead_transaction.lead_id 的唯一索引和状态条件更新，锁失效或 Redis 不可用
// 时账本依旧正确。
//
// 加锁：SET key owner NX PX ttl
// 释放：Lua 脚本比较 owner 后再 DEL，避免锁过期后误删别人的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	owner      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁，owner 为空时自动生成
func NewDistributedLock(client *redis.Client, key, owner string, expiration time.Duration) *DistributedLock {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &DistributedLock{
		client:     client,
		key:        key,
		owner:      owner,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Err()
}

// NewConversionLock 线索维度的转化锁
func NewConversionLock(client *redis.Client, leadID int64) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("convert:lock:lead:%d", leadID), "", 30*time.Second)
}

// NewPaymentLock 流水维度的支付锁
func NewPaymentLock(client *redis.Client, transactionID int64) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("pay:lock:txn:%d", transactionID), "", 30*time.Second)
}
