package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"posledger/internal/config"
	"posledger/internal/infrastructure/database"
	"posledger/internal/model"
	"posledger/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), logger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fixture struct {
	db           *gorm.DB
	cfg          *config.Config
	people       *PersonService
	products     *ProductService
	transactions *TransactionService
	refunds      *RefundService
	payments     *PaymentService
	purchases    *PurchaseService
	statements   *StatementService
	audits       *AuditService
	allocator    *AllocationService
	stock        *StockService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRedis(t, nil)
}

func newFixtureWithRedis(t *testing.T, rdb *redis.Client) *fixture {
	t.Helper()
	db := newTestDB(t)
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	audit := repository.NewAuditRepository(db)
	return &fixture{
		db:           db,
		cfg:          cfg,
		people:       NewPersonService(db, cfg, audit),
		products:     NewProductService(db, cfg, audit),
		transactions: NewTransactionService(db, rdb, cfg, audit),
		refunds:      NewRefundService(db, cfg, audit),
		payments:     NewPaymentService(db, rdb, cfg, audit),
		purchases:    NewPurchaseService(db, rdb, cfg, audit),
		statements:   NewStatementService(db),
		audits:       NewAuditService(db),
		allocator:    NewAllocationService(db),
		stock:        NewStockService(db),
	}
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func day(d int) *time.Time {
	t := time.Date(2024, 1, d, 10, 0, 0, 0, time.UTC)
	return &t
}

func (f *fixture) product(t *testing.T, name string, price int64, cost int64, stock int) *model.Product {
	t.Helper()
	p, err := f.products.Create(context.Background(), &CreateProductRequest{
		Name:          name,
		Price:         dec(price),
		CostPrice:     dec(cost),
		StockQuantity: stock,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) person(t *testing.T, name, phone, role string) *model.Person {
	t.Helper()
	p, err := f.people.Create(context.Background(), &CreatePersonRequest{Name: name, Phone: phone, Role: role})
	require.NoError(t, err)
	return p
}

func (f *fixture) customer(t *testing.T, name string) *model.Person {
	return f.person(t, name, "", model.RoleCustomer)
}

// sale 单行销售单，customerID 为 0 表示散客
func (f *fixture) sale(t *testing.T, customerID, productID int64, qty int, price int64, date *time.Time) *TransactionResult {
	t.Helper()
	unitPrice := dec(price)
	req := &CreateTransactionRequest{
		TransactionDate: date,
		Items:           []TransactionItemRequest{{ProductID: productID, Quantity: qty, UnitPrice: &unitPrice}},
	}
	if customerID != 0 {
		req.Customer = PersonRef{ID: &customerID}
	}
	res, err := f.transactions.Create(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (f *fixture) pay(t *testing.T, personID int64, amount int64, date *time.Time) *PaymentResult {
	t.Helper()
	res, err := f.payments.RecordPayment(context.Background(), &RecordPaymentRequest{
		PaymentDate:  date,
		Amount:       dec(amount),
		PersonID:     &personID,
		AutoAllocate: true,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) stockOf(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.products.Get(context.Background(), productID)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f *fixture) balanceOf(t *testing.T, personID int64) decimal.Decimal {
	t.Helper()
	b, err := f.statements.Balance(context.Background(), personID)
	require.NoError(t, err)
	return b
}

func (f *fixture) countRows(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}
