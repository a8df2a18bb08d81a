package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"posledger/internal/infrastructure/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLocksReleasedAfterCommit(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	f := newFixtureWithRedis(t, rdb)
	ctx := context.Background()

	ivy := f.customer(t, "Ivy")
	rice := f.product(t, "Rice", 10, 5, 10)
	f.pay(t, ivy.ID, 5, day(1))
	f.sale(t, ivy.ID, rice.ID, 2, 10, day(2))
	_, err := f.purchases.ApplyPurchase(ctx, &CreatePurchaseRequest{
		Items: []PurchaseItemRequest{{ProductID: rice.ID, Quantity: 5, UnitCost: dec(5)}},
	})
	require.NoError(t, err)
	_, err = f.payments.ApplyOutstandingCredit(ctx, ivy.ID)
	require.NoError(t, err)

	assert.Empty(t, mr.Keys())
	assert.True(t, f.balanceOf(t, ivy.ID).Equal(dec(-15)))
}

func TestLockScopeReentrantAndReleasedOnFailure(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	ctx := context.Background()

	scope := newLockScope(rdb, time.Minute)
	require.NoError(t, scope.person(ctx, 1))
	require.NoError(t, scope.person(ctx, 1))
	require.NoError(t, scope.products(ctx, []int64{3, 2, 3}))
	assert.Len(t, mr.Keys(), 3)

	scope.release()
	assert.Empty(t, mr.Keys())

	f := newFixtureWithRedis(t, rdb)
	rice := f.product(t, "Rice", 10, 5, 1)
	_, err := f.transactions.Create(ctx, &CreateTransactionRequest{
		Items: []TransactionItemRequest{{ProductID: rice.ID, Quantity: 2}},
	})
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Empty(t, mr.Keys())
}

func TestLockScopeReportsContention(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	holder := lock.NewPersonLock(rdb, 9, time.Minute)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	scope := newLockScope(rdb, time.Minute)
	defer scope.release()
	err = scope.person(ctx, 9)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
}
