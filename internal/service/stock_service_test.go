package service

import (
	"context"
	"errors"
	"testing"

	"posledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReserveStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 5)

	t.Run("超出库存", func(t *testing.T) {
		err := f.db.Transaction(func(tx *gorm.DB) error {
			_, _, err := f.stock.ReserveStock(ctx, tx, rice.ID, 6)
			return err
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInsufficientStock))

		var stockErr *InsufficientStockError
		require.True(t, errors.As(err, &stockErr))
		assert.Equal(t, "Rice", stockErr.ProductName)
		assert.Equal(t, 5, stockErr.Available)
		assert.Equal(t, 6, stockErr.Requested)
		assert.Equal(t, 5, f.stockOf(t, rice.ID))
	})

	t.Run("恰好扣完", func(t *testing.T) {
		err := f.db.Transaction(func(tx *gorm.DB) error {
			cost, product, err := f.stock.ReserveStock(ctx, tx, rice.ID, 5)
			if err != nil {
				return err
			}
			assert.True(t, cost.Equal(dec(6)))
			assert.Equal(t, 0, product.StockQuantity)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 0, f.stockOf(t, rice.ID))
	})
}

func TestReserveStockSkipsStocklessProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, err := f.products.Create(ctx, &CreateProductRequest{Name: "Delivery fee", Price: dec(5), IsService: true})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := f.stock.ReserveStock(ctx, tx, svc.ID, 3)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.stockOf(t, svc.ID))
}

func TestCreateTransactionRollsBackOnInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 6, 5)
	oil := f.product(t, "Oil", 20, 12, 1)

	_, err := f.transactions.Create(ctx, &CreateTransactionRequest{
		Items: []TransactionItemRequest{
			{ProductID: rice.ID, Quantity: 2},
			{ProductID: oil.ID, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 5, f.stockOf(t, rice.ID))
	assert.Equal(t, 1, f.stockOf(t, oil.ID))
	assert.Zero(t, f.countRows(t, &model.Transaction{}))
}

func TestApplyPurchaseWeightedAverageCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 5, 10)

	purchase, err := f.purchases.ApplyPurchase(ctx, &CreatePurchaseRequest{
		Supplier: "Wholesale",
		Items:    []PurchaseItemRequest{{ProductID: rice.ID, Quantity: 10, UnitCost: dec(7)}},
	})
	require.NoError(t, err)
	assert.True(t, purchase.TotalAmount.Equal(dec(70)))
	assert.Equal(t, model.PurchasePaymentPaid, purchase.PaymentStatus)
	assert.Equal(t, "Store", purchase.PaidBy)

	updated, err := f.products.Get(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, updated.StockQuantity)
	assert.Equal(t, "6.00", updated.CostPrice.StringFixed(2))
}

func TestApplyPurchaseIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 5, 10)

	_, err := f.purchases.ApplyPurchase(ctx, &CreatePurchaseRequest{
		Items: []PurchaseItemRequest{
			{ProductID: rice.ID, Quantity: 10, UnitCost: dec(7)},
			{ProductID: 999, Quantity: 1, UnitCost: dec(1)},
		},
	})
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := f.products.Get(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.StockQuantity)
	assert.True(t, updated.CostPrice.Equal(dec(5)))
	assert.Zero(t, f.countRows(t, &model.Purchase{}))
}

func TestApplyPurchaseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", 10, 5, 10)

	_, err := f.purchases.ApplyPurchase(ctx, &CreatePurchaseRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.purchases.ApplyPurchase(ctx, &CreatePurchaseRequest{
		Items: []PurchaseItemRequest{{ProductID: rice.ID, Quantity: 0, UnitCost: dec(7)}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.purchases.ApplyPurchase(ctx, &CreatePurchaseRequest{
		PaymentStatus: "Later",
		Items:         []PurchaseItemRequest{{ProductID: rice.ID, Quantity: 1, UnitCost: dec(7)}},
	})
	assert.ErrorIs(t, err, ErrValidation)
}
