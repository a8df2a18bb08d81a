package service

import (
	"context"
	"strings"
	"testing"

	"posledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 20)
	oil := f.product(t, "Oil", 25, 15, 20)

	res, err := f.transactions.Create(ctx, &CreateTransactionRequest{
		TransactionDate: day(5),
		Customer:        PersonRef{Name: "Walker", Phone: "0770"},
		Discount:        dec(5),
		Note:            " front counter ",
		Items: []TransactionItemRequest{
			{ProductID: rice.ID, Quantity: 3},
			{ProductID: oil.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)

	trans := res.Transaction
	assert.Equal(t, model.TransactionStatusCompleted, trans.Status)
	assert.True(t, trans.TotalAmount.Equal(dec(75)))
	assert.Equal(t, "front counter", trans.Note)
	assert.True(t, strings.HasPrefix(trans.OrderNo, "ORD"))
	require.Len(t, trans.Items, 2)
	assert.True(t, trans.Items[0].UnitCost.Equal(dec(6)))
	assert.True(t, trans.CostOfGoods().Equal(dec(48)))

	require.NotNil(t, trans.PersonID)
	customer, err := f.people.Get(ctx, *trans.PersonID)
	require.NoError(t, err)
	assert.Equal(t, "Walker", customer.Name)
	assert.Equal(t, "Walker", trans.CustomerName)

	assert.Equal(t, 17, f.stockOf(t, rice.ID))
	assert.Equal(t, 18, f.stockOf(t, oil.ID))

	logs, err := f.audits.ListForEntity(ctx, model.AuditEntityTransaction, trans.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionSale, logs[0].Action)
	assert.Equal(t, model.ActorSystem, logs[0].Actor)

	assert.Equal(t, int64(1), f.countRows(t, &model.OutboxMessage{}))
}

func TestCreateTransactionDiscountFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	rice := f.product(t, "Rice", 10, 6, 20)

	res, err := f.transactions.Create(context.Background(), &CreateTransactionRequest{
		Discount: dec(50),
		Items:    []TransactionItemRequest{{ProductID: rice.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, res.Transaction.TotalAmount.IsZero())
	assert.Nil(t, res.Transaction.PersonID)
}

func TestCreateDeliveryStartsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 20)

	res, err := f.transactions.Create(ctx, &CreateTransactionRequest{
		IsDelivery: true,
		Driver:     PersonRef{Name: "Sam"},
		Items:      []TransactionItemRequest{{ProductID: rice.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, res.Transaction.Status)
	require.NotNil(t, res.Transaction.DriverID)

	driver, err := f.people.Get(ctx, *res.Transaction.DriverID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleDriver, driver.Role)

	pending, err := f.transactions.ListForDriver(ctx, driver.ID, model.TransactionStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	summary, err := f.statements.Summary(ctx, driver.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PendingDeliveries)
	assert.Equal(t, 0, summary.CompletedDeliveries)
}

func TestCreateTransactionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 20)

	_, err := f.transactions.Create(ctx, &CreateTransactionRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.transactions.Create(ctx, &CreateTransactionRequest{
		Items: []TransactionItemRequest{{ProductID: rice.ID, Quantity: 0}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.transactions.Create(ctx, &CreateTransactionRequest{
		Items: []TransactionItemRequest{{ProductID: 404, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelUncancelRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	erin := f.customer(t, "Erin")
	rice := f.product(t, "Rice", 10, 6, 10)
	sale := f.sale(t, erin.ID, rice.ID, 3, 10, day(1))
	require.Equal(t, 7, f.stockOf(t, rice.ID))

	canceled, err := f.transactions.UpdateStatus(ctx, sale.Transaction.ID, model.TransactionStatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCanceled, canceled.Transaction.Status)
	assert.Equal(t, 10, f.stockOf(t, rice.ID))
	assert.True(t, f.balanceOf(t, erin.ID).IsZero())

	restored, err := f.transactions.UpdateStatus(ctx, sale.Transaction.ID, model.TransactionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, restored.Transaction.Status)
	assert.Equal(t, 7, f.stockOf(t, rice.ID))
	assert.True(t, f.balanceOf(t, erin.ID).Equal(dec(-30)))
}

func TestUncancelNeedsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 5)
	first := f.sale(t, 0, rice.ID, 3, 10, day(1))

	_, err := f.transactions.UpdateStatus(ctx, first.Transaction.ID, model.TransactionStatusCanceled)
	require.NoError(t, err)
	f.sale(t, 0, rice.ID, 4, 10, day(2))
	require.Equal(t, 1, f.stockOf(t, rice.ID))

	_, err = f.transactions.UpdateStatus(ctx, first.Transaction.ID, model.TransactionStatusPending)
	require.ErrorIs(t, err, ErrInsufficientStock)

	trans, err := f.transactions.Get(ctx, first.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCanceled, trans.Status)
	assert.Equal(t, 1, f.stockOf(t, rice.ID))
}

func TestUncancelAppliesCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fay := f.customer(t, "Fay")
	rice := f.product(t, "Rice", 10, 6, 10)
	sale := f.sale(t, fay.ID, rice.ID, 5, 10, day(1))

	_, err := f.transactions.UpdateStatus(ctx, sale.Transaction.ID, model.TransactionStatusCanceled)
	require.NoError(t, err)

	paid := f.pay(t, fay.ID, 50, day(2))
	assert.Empty(t, paid.Applied)

	res, err := f.transactions.UpdateStatus(ctx, sale.Transaction.ID, model.TransactionStatusPending)
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.True(t, res.Applied[0].Amount.Equal(dec(50)))
	assert.True(t, res.Transaction.BalanceDue().IsZero())
}

func TestUpdateStatusRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 10)
	sale := f.sale(t, 0, rice.ID, 1, 10, day(1))
	id := sale.Transaction.ID

	_, err := f.transactions.UpdateStatus(ctx, id, "SHIPPED")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.transactions.UpdateStatus(ctx, id, model.TransactionStatusRefunded)
	assert.ErrorIs(t, err, ErrInvalidState)

	// 相同状态不做任何变更
	res, err := f.transactions.UpdateStatus(ctx, id, model.TransactionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, res.Transaction.Status)
	logs, err := f.audits.ListForEntity(ctx, model.AuditEntityTransaction, id)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = f.transactions.UpdateStatus(ctx, 999, model.TransactionStatusPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUnappliesWithoutRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gus := f.customer(t, "Gus")
	rice := f.product(t, "Rice", 10, 6, 10)
	sale := f.sale(t, gus.ID, rice.ID, 8, 10, day(1))
	paid := f.pay(t, gus.ID, 80, day(2))
	require.Len(t, paid.Applied, 1)

	require.NoError(t, f.transactions.Delete(ctx, sale.Transaction.ID))

	assert.Equal(t, 10, f.stockOf(t, rice.ID))
	assert.Equal(t, int64(1), f.countRows(t, &model.Payment{}))
	assert.Zero(t, f.countRows(t, &model.PaymentAllocation{}))
	assert.Zero(t, f.countRows(t, &model.TransactionItem{}))

	payment, err := f.payments.Get(ctx, paid.Payment.ID)
	require.NoError(t, err)
	assert.True(t, payment.Unallocated().Equal(dec(80)))
	assert.True(t, f.balanceOf(t, gus.ID).Equal(dec(80)))

	_, err = f.transactions.Get(ctx, sale.Transaction.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	logs, err := f.audits.ListForEntity(ctx, model.AuditEntityTransaction, sale.Transaction.ID)
	require.NoError(t, err)
	var deleted *model.AuditLog
	for _, l := range logs {
		if l.Action == model.AuditActionDelete {
			deleted = l
		}
	}
	require.NotNil(t, deleted)
	assert.Contains(t, deleted.Changes, `"payment_id":`+idString(paid.Payment.ID))
	assert.Contains(t, deleted.Changes, `"amount":"80.00"`)
}

func TestDeleteRefundedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ida := f.customer(t, "Ida")
	rice := f.product(t, "Rice", 10, 6, 10)
	sale := f.sale(t, ida.ID, rice.ID, 5, 10, day(1))
	f.pay(t, ida.ID, 50, day(2))

	_, err := f.refunds.Refund(ctx, sale.Transaction.ID, &RefundRequest{})
	require.NoError(t, err)
	require.True(t, f.balanceOf(t, ida.ID).IsZero())
	allocations := f.countRows(t, &model.PaymentAllocation{})
	require.Equal(t, int64(2), allocations)

	err = f.transactions.Delete(ctx, sale.Transaction.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	// 退款与原收款的分配都保留，不产生余额
	assert.Equal(t, allocations, f.countRows(t, &model.PaymentAllocation{}))
	assert.Equal(t, int64(2), f.countRows(t, &model.Payment{}))
	assert.True(t, f.balanceOf(t, ida.ID).IsZero())
	assert.Equal(t, 10, f.stockOf(t, rice.ID))

	trans, err := f.transactions.Get(ctx, sale.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusRefunded, trans.Status)
}

func TestDeleteCanceledKeepsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 10)
	sale := f.sale(t, 0, rice.ID, 2, 10, day(1))

	_, err := f.transactions.UpdateStatus(ctx, sale.Transaction.ID, model.TransactionStatusCanceled)
	require.NoError(t, err)
	require.Equal(t, 10, f.stockOf(t, rice.ID))

	require.NoError(t, f.transactions.Delete(ctx, sale.Transaction.ID))
	assert.Equal(t, 10, f.stockOf(t, rice.ID))
}

func TestEditTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), "Mia")
	rice := f.product(t, "Rice", 10, 6, 10)
	sale := f.sale(t, 0, rice.ID, 6, 10, day(1))
	hank := f.customer(t, "Hank")
	f.pay(t, hank.ID, 100, day(2))

	note := "call before delivery"
	res, err := f.transactions.Edit(ctx, sale.Transaction.ID, &EditTransactionRequest{
		Note:     &note,
		Customer: &PersonRef{ID: &hank.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, note, res.Transaction.Note)
	require.NotNil(t, res.Transaction.PersonID)
	assert.Equal(t, hank.ID, *res.Transaction.PersonID)
	assert.Equal(t, "Hank", res.Transaction.CustomerName)
	require.Len(t, res.Applied, 1)
	assert.True(t, res.Applied[0].Amount.Equal(dec(60)))
	assert.True(t, f.balanceOf(t, hank.ID).Equal(dec(40)))

	logs, err := f.audits.ListForEntity(ctx, model.AuditEntityTransaction, sale.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	edit := logs[1]
	assert.Equal(t, model.AuditActionUpdate, edit.Action)
	assert.Equal(t, "Mia", edit.Actor)
	assert.Contains(t, edit.Description, "Note changed")
	assert.Contains(t, edit.Description, "Customer changed from Walk-in to Hank")

	// 没有变化时不写审计
	_, err = f.transactions.Edit(ctx, sale.Transaction.ID, &EditTransactionRequest{Note: &note})
	require.NoError(t, err)
	logs, err = f.audits.ListForEntity(ctx, model.AuditEntityTransaction, sale.Transaction.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestEditCustomerMovesExclusivePayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 10)
	ivy := f.customer(t, "Ivy")
	jon := f.customer(t, "Jon")
	sale := f.sale(t, ivy.ID, rice.ID, 4, 10, day(1))
	paid := f.pay(t, ivy.ID, 40, day(2))
	require.Len(t, paid.Applied, 1)

	_, err := f.transactions.Edit(ctx, sale.Transaction.ID, &EditTransactionRequest{
		Customer: &PersonRef{ID: &jon.ID},
	})
	require.NoError(t, err)

	moved, err := f.payments.Get(ctx, paid.Payment.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.PersonID)
	assert.Equal(t, jon.ID, *moved.PersonID)
	assert.Equal(t, "Jon", moved.CustomerName)
	assert.True(t, f.balanceOf(t, ivy.ID).IsZero())
	assert.True(t, f.balanceOf(t, jon.ID).IsZero())

	// 解除关联后收款也不再属于任何人
	_, err = f.transactions.Edit(ctx, sale.Transaction.ID, &EditTransactionRequest{Customer: &PersonRef{}})
	require.NoError(t, err)

	trans, err := f.transactions.Get(ctx, sale.Transaction.ID)
	require.NoError(t, err)
	assert.Nil(t, trans.PersonID)
	assert.Empty(t, trans.CustomerName)

	unlinked, err := f.payments.Get(ctx, paid.Payment.ID)
	require.NoError(t, err)
	assert.Nil(t, unlinked.PersonID)
}

func TestListForPersonNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kim := f.customer(t, "Kim")
	rice := f.product(t, "Rice", 10, 6, 10)
	older := f.sale(t, kim.ID, rice.ID, 1, 10, day(1))
	newer := f.sale(t, kim.ID, rice.ID, 1, 10, day(3))

	list, err := f.transactions.ListForPerson(ctx, kim.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.Transaction.ID, list[0].ID)
	assert.Equal(t, older.Transaction.ID, list[1].ID)

	_, err = f.transactions.ListForPerson(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
