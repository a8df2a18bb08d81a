package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 分布式锁
//
// 冲抵（FIFO 自动分配）会读取某个人的全部可用余额再写入分配记录，
// 同一个人的两次冲抵如果并发执行，会重复消耗同一笔余额。
// 因此按人员维度加锁，不同人员之间互不影响。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本比较 value 后删除，避免误删其它请求的锁

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
// client 为 nil 时所有操作都是空操作（未启用 Redis 的单实例部署）
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// Key 锁的 key
func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
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
	if l.client == nil {
		return nil
	}
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// NewPersonLock 人员维度的冲抵锁
func NewPersonLock(client *redis.Client, personID int64, expiration time.Duration) *DistributedLock {
	key := fmt.Sprintf("posledger:lock:person:%d", personID)
	return NewDistributedLock(client, key, uuid.NewString(), expiration)
}

// NewProductLock 商品维度的成本锁（采购入库时使用）
func NewProductLock(client *redis.Client, productID int64, expiration time.Duration) *DistributedLock {
	key := fmt.Sprintf("posledger:lock:product:%d", productID)
	return NewDistributedLock(client, key, uuid.NewString(), expiration)
}
