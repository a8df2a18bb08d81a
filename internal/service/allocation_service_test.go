package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"posledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSweepFIFOOrdersByDateThenID(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	fills := sweepFIFO(dec(120), []ledgerSlot{
		{id: 7, date: d2, open: dec(50)},
		{id: 9, date: d1, open: dec(100)},
		{id: 3, date: d2, open: dec(40)},
	})
	require.Len(t, fills, 2)
	assert.Equal(t, int64(9), fills[0].id)
	assert.True(t, fills[0].amount.Equal(dec(100)))
	assert.Equal(t, int64(3), fills[1].id)
	assert.True(t, fills[1].amount.Equal(dec(20)))
}

func TestSweepFIFOSkipsEmptySlots(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fills := sweepFIFO(dec(30), []ledgerSlot{
		{id: 1, date: d1, open: dec(0)},
		{id: 2, date: d1, open: dec(10)},
	})
	require.Len(t, fills, 1)
	assert.Equal(t, int64(2), fills[0].id)
	assert.True(t, fills[0].amount.Equal(dec(10)))

	assert.Empty(t, sweepFIFO(dec(0), []ledgerSlot{{id: 1, date: d1, open: dec(10)}}))
}

func TestInvoiceSeeksCreditFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "Alice")
	rice := f.product(t, "Rice", 120, 60, 10)

	// 晚日期的收款先录入，冲抵顺序只看日期
	p2 := f.pay(t, alice.ID, 50, day(2))
	p1 := f.pay(t, alice.ID, 100, day(1))
	assert.Empty(t, p1.Applied)
	assert.Empty(t, p2.Applied)

	res := f.sale(t, alice.ID, rice.ID, 1, 120, day(3))
	require.Len(t, res.Applied, 2)
	assert.Equal(t, p1.Payment.ID, res.Applied[0].PaymentID)
	assert.True(t, res.Applied[0].Amount.Equal(dec(100)))
	assert.Equal(t, p2.Payment.ID, res.Applied[1].PaymentID)
	assert.True(t, res.Applied[1].Amount.Equal(dec(20)))
	assert.True(t, res.Transaction.BalanceDue().IsZero())

	left, err := f.payments.Get(ctx, p2.Payment.ID)
	require.NoError(t, err)
	assert.True(t, left.Unallocated().Equal(dec(30)))
	assert.True(t, f.balanceOf(t, alice.ID).Equal(dec(30)))
}

func TestPaymentSeeksInvoicesFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.customer(t, "Bob")
	rice := f.product(t, "Rice", 10, 5, 100)

	t2 := f.sale(t, bob.ID, rice.ID, 5, 10, day(2))
	t1 := f.sale(t, bob.ID, rice.ID, 8, 10, day(1))
	assert.Empty(t, t1.Applied)

	res := f.pay(t, bob.ID, 100, day(3))
	require.Len(t, res.Applied, 2)
	assert.Equal(t, t1.Transaction.ID, res.Applied[0].TransactionID)
	assert.True(t, res.Applied[0].Amount.Equal(dec(80)))
	assert.Equal(t, t2.Transaction.ID, res.Applied[1].TransactionID)
	assert.True(t, res.Applied[1].Amount.Equal(dec(20)))

	open, err := f.transactions.Get(ctx, t2.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, open.BalanceDue().Equal(dec(30)))
	assert.True(t, f.balanceOf(t, bob.ID).Equal(dec(-30)))
}

func TestRecordPaymentWithoutAutoAllocate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.customer(t, "Bob")
	rice := f.product(t, "Rice", 10, 5, 100)
	f.sale(t, bob.ID, rice.ID, 2, 10, day(1))

	res, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{
		Amount:   dec(20),
		PersonID: &bob.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.True(t, res.Payment.Unallocated().Equal(dec(20)))

	applied, err := f.payments.ApplyOutstandingCredit(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.True(t, applied[0].Amount.Equal(dec(20)))

	again, err := f.payments.ApplyOutstandingCredit(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestConcurrentCreditSweepsApplyOnce(t *testing.T) {
	// 未启用 Redis，只靠人员行锁串行
	f := newFixture(t)
	ctx := context.Background()
	eve := f.customer(t, "Eve")
	rice := f.product(t, "Rice", 10, 5, 100)
	sale := f.sale(t, eve.ID, rice.ID, 2, 10, day(1))
	_, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{Amount: dec(20), PersonID: &eve.ID})
	require.NoError(t, err)

	const workers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied []AppliedAllocation
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.payments.ApplyOutstandingCredit(ctx, eve.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			applied = append(applied, got...)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.True(t, sumApplied(applied).Equal(dec(20)))
	assert.Equal(t, int64(1), f.countRows(t, &model.PaymentAllocation{}))

	trans, err := f.transactions.Get(ctx, sale.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, trans.BalanceDue().IsZero())
	assert.True(t, f.balanceOf(t, eve.ID).IsZero())
}

func TestSweepsSeeAllocationsWrittenInSameTx(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fay := f.customer(t, "Fay")
	rice := f.product(t, "Rice", 10, 5, 100)
	f.sale(t, fay.ID, rice.ID, 3, 10, day(1))
	_, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{Amount: dec(20), PersonID: &fay.ID})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		first, err := f.allocator.SweepPersonCredit(ctx, tx, fay.ID)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.True(t, first[0].Amount.Equal(dec(20)))

		second, err := f.allocator.SweepPersonCredit(ctx, tx, fay.ID)
		require.NoError(t, err)
		assert.Empty(t, second)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.countRows(t, &model.PaymentAllocation{}))
}

func TestSweepsRequireExistingPerson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.allocator.SweepPersonCredit(ctx, tx, 999)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.allocator.AutoAllocateCredit(ctx, tx, AutoAllocateRequest{
			Direction: PaymentSeeksInvoices,
			PersonID:  999,
			PaymentID: 1,
		})
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManualAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := f.customer(t, "Carol")
	rice := f.product(t, "Rice", 10, 5, 100)
	t1 := f.sale(t, carol.ID, rice.ID, 3, 10, day(1))
	t2 := f.sale(t, carol.ID, rice.ID, 3, 10, day(2))

	t.Run("超额分配", func(t *testing.T) {
		_, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount: dec(50),
			Allocations: []ManualAllocation{
				{TransactionID: t1.Transaction.ID, Amount: dec(30)},
				{TransactionID: t2.Transaction.ID, Amount: dec(30)},
			},
		})
		require.ErrorIs(t, err, ErrOverAllocation)
		assert.Zero(t, f.countRows(t, &model.Payment{}))
	})

	t.Run("取整后超额", func(t *testing.T) {
		// 50.005 -> 50.01, 49.995 -> 50.00
		_, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount: dec(100),
			Allocations: []ManualAllocation{
				{TransactionID: t1.Transaction.ID, Amount: decimal.RequireFromString("50.005")},
				{TransactionID: t2.Transaction.ID, Amount: decimal.RequireFromString("49.995")},
			},
		})
		require.ErrorIs(t, err, ErrOverAllocation)
		assert.Zero(t, f.countRows(t, &model.Payment{}))
		assert.Zero(t, f.countRows(t, &model.PaymentAllocation{}))
	})

	t.Run("金额必须为正", func(t *testing.T) {
		_, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount:      dec(50),
			Allocations: []ManualAllocation{{TransactionID: t1.Transaction.ID, Amount: dec(0)}},
		})
		require.ErrorIs(t, err, ErrValidation)

		_, err = f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount:      dec(50),
			Allocations: []ManualAllocation{{TransactionID: t1.Transaction.ID, Amount: decimal.RequireFromString("0.004")}},
		})
		require.ErrorIs(t, err, ErrValidation)
		assert.Zero(t, f.countRows(t, &model.PaymentAllocation{}))
	})

	t.Run("销售单不存在", func(t *testing.T) {
		_, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount:      dec(50),
			Allocations: []ManualAllocation{{TransactionID: 999, Amount: dec(10)}},
		})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("按第一张销售单推断人员", func(t *testing.T) {
		res, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount: dec(50),
			Allocations: []ManualAllocation{
				{TransactionID: t2.Transaction.ID, Amount: dec(30)},
				{TransactionID: t1.Transaction.ID, Amount: dec(10)},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, res.Payment.PersonID)
		assert.Equal(t, carol.ID, *res.Payment.PersonID)
		assert.Equal(t, "Carol", res.Payment.CustomerName)
		require.Len(t, res.Applied, 2)
		assert.True(t, res.Payment.Unallocated().Equal(dec(10)))
	})

	t.Run("按取整后的金额写入", func(t *testing.T) {
		res, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount:      decimal.RequireFromString("5.005"),
			Allocations: []ManualAllocation{{TransactionID: t2.Transaction.ID, Amount: decimal.RequireFromString("5.005")}},
		})
		require.NoError(t, err)
		assert.True(t, res.Payment.Amount.Equal(decimal.RequireFromString("5.01")))
		require.Len(t, res.Applied, 1)
		assert.True(t, res.Applied[0].Amount.Equal(decimal.RequireFromString("5.01")))
		assert.True(t, res.Payment.Unallocated().IsZero())
	})

	t.Run("已取消的销售单不能分配", func(t *testing.T) {
		_, err := f.transactions.UpdateStatus(ctx, t1.Transaction.ID, model.TransactionStatusCanceled)
		require.NoError(t, err)

		_, err = f.payments.RecordPayment(ctx, &RecordPaymentRequest{
			Amount:      dec(5),
			Allocations: []ManualAllocation{{TransactionID: t1.Transaction.ID, Amount: dec(5)}},
		})
		require.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.payments.RecordPayment(ctx, &RecordPaymentRequest{Amount: dec(0)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.payments.RecordPayment(ctx, &RecordPaymentRequest{Amount: dec(-5)})
	assert.ErrorIs(t, err, ErrValidation)

	// 取整到分后为0
	_, err = f.payments.RecordPayment(ctx, &RecordPaymentRequest{Amount: decimal.RequireFromString("0.004")})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, f.countRows(t, &model.Payment{}))

	missing := int64(42)
	_, err = f.payments.RecordPayment(ctx, &RecordPaymentRequest{Amount: dec(5), PersonID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePaymentReopensInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dan := f.customer(t, "Dan")
	rice := f.product(t, "Rice", 10, 5, 100)
	sale := f.sale(t, dan.ID, rice.ID, 4, 10, day(1))
	paid := f.pay(t, dan.ID, 40, day(2))
	require.Len(t, paid.Applied, 1)

	require.NoError(t, f.payments.DeletePayment(ctx, paid.Payment.ID))

	trans, err := f.transactions.Get(ctx, sale.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, trans.BalanceDue().Equal(dec(40)))
	assert.Zero(t, f.countRows(t, &model.PaymentAllocation{}))

	_, err = f.payments.Get(ctx, paid.Payment.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePersonByIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.person(t, "Bob", "555", model.RoleCustomer)
	f.person(t, "bob", "777", model.RoleCustomer)
	f.person(t, "Bob", "555", model.RoleDriver)

	t.Run("电话优先", func(t *testing.T) {
		res, err := f.allocator.ResolvePersonByIdentity(ctx, nil, "BOB", "555", model.RoleCustomer)
		require.NoError(t, err)
		assert.Equal(t, ResolutionMatched, res.Kind)
		assert.True(t, res.ByPhone)
		require.NotNil(t, res.Person.Phone)
		assert.Equal(t, "555", *res.Person.Phone)
		assert.Equal(t, model.RoleCustomer, res.Person.Role)
	})

	t.Run("姓名重复", func(t *testing.T) {
		res, err := f.allocator.ResolvePersonByIdentity(ctx, nil, "BOB", "", model.RoleCustomer)
		require.NoError(t, err)
		assert.Equal(t, ResolutionAmbiguous, res.Kind)
		assert.Len(t, res.Candidates, 2)

		_, _, err = f.allocator.ResolveOrCreatePerson(ctx, nil, "BOB", "", model.RoleCustomer)
		assert.ErrorIs(t, err, ErrAmbiguousPerson)
	})

	t.Run("限定角色", func(t *testing.T) {
		res, err := f.allocator.ResolvePersonByIdentity(ctx, nil, "bob", "", model.RoleDriver)
		require.NoError(t, err)
		assert.Equal(t, ResolutionMatched, res.Kind)
		assert.Equal(t, model.RoleDriver, res.Person.Role)
	})

	t.Run("不存在时新建", func(t *testing.T) {
		p, created, err := f.allocator.ResolveOrCreatePerson(ctx, nil, "Carol", "123", model.RoleCustomer)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "Carol", p.Name)

		again, created, err := f.allocator.ResolveOrCreatePerson(ctx, nil, "", "123", model.RoleCustomer)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, p.ID, again.ID)
	})

	t.Run("按姓名匹配时补全电话", func(t *testing.T) {
		dave := f.customer(t, "Dave")
		p, created, err := f.allocator.ResolveOrCreatePerson(ctx, nil, "dave", "900", model.RoleCustomer)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, dave.ID, p.ID)

		stored, err := f.people.Get(ctx, dave.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Phone)
		assert.Equal(t, "900", *stored.Phone)
	})

	t.Run("散客", func(t *testing.T) {
		p, created, err := f.allocator.ResolveOrCreatePerson(ctx, nil, " ", "", model.RoleCustomer)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.False(t, created)
	})
}
