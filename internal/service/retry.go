package service

import (
	"errors"
	"log"

	"posledger/internal/repository"
)

// withRetry 乐观锁冲突时整体重试，超过次数返回 ErrConcurrentUpdate
func withRetry(maxRetry int, op string, fn func() error) error {
	if maxRetry < 1 {
		maxRetry = 1
	}
	var err error
	for attempt := 1; attempt <= maxRetry; attempt++ {
		err = fn()
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}
		log.Printf("[Retry] %s 乐观锁冲突，第 %d 次尝试失败", op, attempt)
	}
	return ErrConcurrentUpdate
}
