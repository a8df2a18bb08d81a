package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"posledger/internal/infrastructure/lock"

	"github.com/go-redis/redis/v8"
)

const (
	lockRetryInterval = 100 * time.Millisecond
	lockMaxRetries    = 50
)

// lockScope 一次业务操作内持有的分布式锁
// 同一个 key 只加锁一次，事务重试时不会等待自己持有的锁
type lockScope struct {
	client *redis.Client
	ttl    time.Duration
	held   map[string]*lock.DistributedLock
	order  []string
}

func newLockScope(client *redis.Client, ttl time.Duration) *lockScope {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &lockScope{
		client: client,
		ttl:    ttl,
		held:   make(map[string]*lock.DistributedLock),
	}
}

func (s *lockScope) acquire(ctx context.Context, l *lock.DistributedLock) error {
	if _, ok := s.held[l.Key()]; ok {
		return nil
	}
	if err := l.Lock(ctx, lockRetryInterval, lockMaxRetries); err != nil {
		return fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	}
	s.held[l.Key()] = l
	s.order = append(s.order, l.Key())
	return nil
}

// person 冲抵前锁定人员
// 事务内的冲抵另由人员行锁串行（见 AllocationService.lockLedger），未启用 Redis 时同样成立
func (s *lockScope) person(ctx context.Context, personID int64) error {
	return s.acquire(ctx, lock.NewPersonLock(s.client, personID, s.ttl))
}

// products 按 ID 升序锁定商品，避免交叉等待
func (s *lockScope) products(ctx context.Context, productIDs []int64) error {
	ids := append([]int64(nil), productIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := s.acquire(ctx, lock.NewProductLock(s.client, id, s.ttl)); err != nil {
			return err
		}
	}
	return nil
}

// release 事务提交或回滚之后调用
func (s *lockScope) release() {
	for i := len(s.order) - 1; i >= 0; i-- {
		key := s.order[i]
		if err := s.held[key].Unlock(context.Background()); err != nil {
			log.Printf("[Lock] 释放锁失败: key=%s, err=%v", key, err)
		}
	}
	s.held = make(map[string]*lock.DistributedLock)
	s.order = nil
}
