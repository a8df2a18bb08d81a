package service

import (
	"context"
	"sort"
	"time"

	"posledger/internal/model"
	"posledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatementService 对账单与余额，只读
type StatementService struct {
	db              *gorm.DB
	personRepo      *repository.PersonRepository
	transactionRepo *repository.TransactionRepository
	paymentRepo     *repository.PaymentRepository
}

func NewStatementService(db *gorm.DB) *StatementService {
	return &StatementService{
		db:              db,
		personRepo:      repository.NewPersonRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		paymentRepo:     repository.NewPaymentRepository(db),
	}
}

// ledger 同一快照内读取的某人全部销售单与收款
type ledger struct {
	person       *model.Person
	transactions []*model.Transaction
	payments     []*model.Payment
}

func (s *StatementService) load(ctx context.Context, personID int64) (*ledger, error) {
	var l ledger
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		person, err := s.personRepo.GetByID(ctx, tx, personID)
		if err != nil {
			return translate(err)
		}
		transactions, err := s.transactionRepo.ListByPerson(ctx, tx, personID)
		if err != nil {
			return err
		}
		payments, err := s.paymentRepo.ListByPerson(ctx, tx, personID)
		if err != nil {
			return err
		}
		l = ledger{person: person, transactions: transactions, payments: payments}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// computeBalance 余额 = 收款合计 - 有效销售单合计（不含已取消、已退款）
func computeBalance(transactions []*model.Transaction, payments []*model.Payment) decimal.Decimal {
	balance := decimal.Zero
	for _, p := range payments {
		balance = balance.Add(p.Amount)
	}
	for _, t := range transactions {
		if model.CountsTowardBalance(t.Status) {
			balance = balance.Sub(t.TotalAmount)
		}
	}
	return balance
}

// statementEntries 生成按时间正序排列的条目（未计算累计余额）
// 同一时间销售单排在收款之前，再按 ID
func statementEntries(transactions []*model.Transaction, payments []*model.Payment) []model.StatementItem {
	items := make([]model.StatementItem, 0, len(transactions)+len(payments))
	for _, t := range transactions {
		description := orderLabel(t.ID)
		amount := t.TotalAmount.Neg()
		if !model.CountsTowardBalance(t.Status) {
			description += " (" + t.Status + ")"
			amount = decimal.Zero
		}
		items = append(items, model.StatementItem{
			Date:        t.TransactionDate,
			Kind:        model.StatementKindTransaction,
			RefID:       t.ID,
			Description: description,
			Amount:      amount,
		})
	}
	for _, p := range payments {
		items = append(items, model.StatementItem{
			Date:        p.PaymentDate,
			Kind:        model.StatementKindPayment,
			RefID:       p.ID,
			Description: paymentLabel(p),
			Amount:      p.Amount,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Kind != b.Kind {
			return a.Kind == model.StatementKindTransaction
		}
		return a.RefID < b.RefID
	})
	return items
}

// BuildStatement 对账单
// 累计余额按时间正序计算，再倒序输出（最新在前）
// from 之前的条目计入期初余额，to 之后的条目不输出
func (s *StatementService) BuildStatement(ctx context.Context, personID int64, from, to *time.Time) (*model.Statement, error) {
	l, err := s.load(ctx, personID)
	if err != nil {
		return nil, err
	}
	return assembleStatement(personID, l.transactions, l.payments, from, to), nil
}

func assembleStatement(personID int64, transactions []*model.Transaction, payments []*model.Payment, from, to *time.Time) *model.Statement {
	entries := statementEntries(transactions, payments)

	opening := decimal.Zero
	running := decimal.Zero
	items := make([]model.StatementItem, 0, len(entries))
	for _, entry := range entries {
		if from != nil && entry.Date.Before(*from) {
			opening = opening.Add(entry.Amount)
			running = opening
			continue
		}
		if to != nil && entry.Date.After(*to) {
			break
		}
		running = running.Add(entry.Amount)
		entry.RunningBalance = running
		items = append(items, entry)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return &model.Statement{
		PersonID:       personID,
		From:           from,
		To:             to,
		OpeningBalance: opening,
		ClosingBalance: running,
		Items:          items,
	}
}

// Balance 人员余额：正数为预付，负数为欠款
func (s *StatementService) Balance(ctx context.Context, personID int64) (decimal.Decimal, error) {
	l, err := s.load(ctx, personID)
	if err != nil {
		return decimal.Zero, err
	}
	return computeBalance(l.transactions, l.payments), nil
}

// Summary 人员账务汇总
func (s *StatementService) Summary(ctx context.Context, personID int64) (*model.PersonSummary, error) {
	l, err := s.load(ctx, personID)
	if err != nil {
		return nil, err
	}

	summary := &model.PersonSummary{
		PersonID:    l.person.ID,
		Name:        l.person.Name,
		Role:        l.person.Role,
		Balance:     computeBalance(l.transactions, l.payments),
		TotalSpent:  decimal.Zero,
		TotalProfit: decimal.Zero,
	}

	var last time.Time
	for _, t := range l.transactions {
		if t.TransactionDate.After(last) {
			last = t.TransactionDate
		}
		if !model.CountsTowardBalance(t.Status) {
			continue
		}
		summary.TotalSpent = summary.TotalSpent.Add(t.TotalAmount)
		summary.TotalProfit = summary.TotalProfit.Add(t.TotalAmount.Sub(t.CostOfGoods()))
	}
	for _, p := range l.payments {
		if p.PaymentDate.After(last) {
			last = p.PaymentDate
		}
	}
	if !last.IsZero() {
		summary.LastActivityAt = &last
	}

	if l.person.Role == model.RoleDriver {
		completed, err := s.transactionRepo.CountDeliveriesByDriver(ctx, personID, model.TransactionStatusCompleted)
		if err != nil {
			return nil, err
		}
		pending, err := s.transactionRepo.CountDeliveriesByDriver(ctx, personID, model.TransactionStatusPending)
		if err != nil {
			return nil, err
		}
		summary.CompletedDeliveries = int(completed)
		summary.PendingDeliveries = int(pending)
	}

	return summary, nil
}
