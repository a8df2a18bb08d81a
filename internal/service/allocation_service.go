package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"posledger/internal/model"
	"posledger/internal/repository"
	"posledger/pkg/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Direction 冲抵方向
type Direction int

const (
	// InvoiceSeeksCredit 销售单从该人员的历史收款余额中按时间先后取款
	InvoiceSeeksCredit Direction = iota
	// PaymentSeeksInvoices 收款按时间先后冲抵该人员未结清的销售单
	PaymentSeeksInvoices
)

func (d Direction) String() string {
	if d == PaymentSeeksInvoices {
		return "payment-seeks-invoices"
	}
	return "invoice-seeks-credit"
}

// AutoAllocateRequest 自动冲抵请求
// InvoiceSeeksCredit 需要 TransactionID，PaymentSeeksInvoices 需要 PaymentID
type AutoAllocateRequest struct {
	Direction     Direction
	PersonID      int64
	TransactionID int64
	PaymentID     int64
}

// AppliedAllocation 实际写入的分配
type AppliedAllocation struct {
	PaymentID     int64           `json:"payment_id"`
	TransactionID int64           `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// ManualAllocation 手工指定的分配
type ManualAllocation struct {
	TransactionID int64           `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type ResolutionKind int

const (
	ResolutionNotFound ResolutionKind = iota
	ResolutionMatched
	ResolutionAmbiguous
)

// Resolution 人员匹配结果
type Resolution struct {
	Kind       ResolutionKind
	Person     *model.Person   // Matched 时有值
	Candidates []*model.Person // Ambiguous 时为全部候选
	ByPhone    bool
}

// AllocationService 收款分配
type AllocationService struct {
	personRepo      *repository.PersonRepository
	transactionRepo *repository.TransactionRepository
	paymentRepo     *repository.PaymentRepository
}

func NewAllocationService(db *gorm.DB) *AllocationService {
	return &AllocationService{
		personRepo:      repository.NewPersonRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		paymentRepo:     repository.NewPaymentRepository(db),
	}
}

// ValidateManualAllocations 校验手工分配，返回按分位取整后的分配行
// 取整后每行金额必须大于0，合计不超过收款金额，销售单必须存在且未取消/退款
// 收款未关联人员时，取第一笔销售单的顾客
func (s *AllocationService) ValidateManualAllocations(ctx context.Context, tx *gorm.DB, payment *model.Payment, allocations []ManualAllocation) ([]ManualAllocation, []*model.Transaction, error) {
	rounded := make([]ManualAllocation, 0, len(allocations))
	amounts := make([]decimal.Decimal, 0, len(allocations))
	for _, a := range allocations {
		amount := money.Round(a.Amount)
		if !amount.IsPositive() {
			return nil, nil, validationError("分配金额必须大于0: transaction_id=%d", a.TransactionID)
		}
		rounded = append(rounded, ManualAllocation{TransactionID: a.TransactionID, Amount: amount})
		amounts = append(amounts, amount)
	}
	if total := money.Sum(amounts...); total.GreaterThan(payment.Amount) {
		return nil, nil, fmt.Errorf("%w: 分配合计 %s, 收款金额 %s", ErrOverAllocation, money.Format(total), money.Format(payment.Amount))
	}

	transactions := make([]*model.Transaction, 0, len(allocations))
	for _, a := range allocations {
		trans, err := s.transactionRepo.GetByID(ctx, tx, a.TransactionID)
		if err != nil {
			return nil, nil, translate(err)
		}
		if !model.CountsTowardBalance(trans.Status) {
			return nil, nil, fmt.Errorf("%w: Order #%d 状态为 %s", ErrInvalidState, trans.ID, trans.Status)
		}
		transactions = append(transactions, trans)
	}

	if payment.PersonID == nil && len(transactions) > 0 && transactions[0].PersonID != nil {
		personID := *transactions[0].PersonID
		payment.PersonID = &personID
		if payment.CustomerName == "" {
			payment.CustomerName = transactions[0].CustomerName
		}
	}
	return rounded, transactions, nil
}

// ResolvePersonByIdentity 按电话优先、姓名次之匹配人员，均限定角色
// 同一步骤匹配到多人时返回 Ambiguous，不做猜测
func (s *AllocationService) ResolvePersonByIdentity(ctx context.Context, tx *gorm.DB, name, phone, role string) (Resolution, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)

	if phone != "" {
		people, err := s.personRepo.FindByPhone(ctx, tx, phone, role)
		if err != nil {
			return Resolution{}, err
		}
		switch len(people) {
		case 0:
		case 1:
			return Resolution{Kind: ResolutionMatched, Person: people[0], ByPhone: true}, nil
		default:
			return Resolution{Kind: ResolutionAmbiguous, Candidates: people, ByPhone: true}, nil
		}
	}

	if name != "" {
		people, err := s.personRepo.FindByName(ctx, tx, name, role)
		if err != nil {
			return Resolution{}, err
		}
		switch len(people) {
		case 0:
		case 1:
			return Resolution{Kind: ResolutionMatched, Person: people[0]}, nil
		default:
			return Resolution{Kind: ResolutionAmbiguous, Candidates: people}, nil
		}
	}

	return Resolution{Kind: ResolutionNotFound}, nil
}

// ResolveOrCreatePerson 匹配不到时新建人员
// 姓名与电话都为空时返回 nil（散客）
func (s *AllocationService) ResolveOrCreatePerson(ctx context.Context, tx *gorm.DB, name, phone, role string) (*model.Person, bool, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" && phone == "" {
		return nil, false, nil
	}

	res, err := s.ResolvePersonByIdentity(ctx, tx, name, phone, role)
	if err != nil {
		return nil, false, fmt.Errorf("查询人员失败: %w", err)
	}

	switch res.Kind {
	case ResolutionMatched:
		person := res.Person
		// 按姓名匹配到且原记录没有电话时补全电话
		if !res.ByPhone && phone != "" && (person.Phone == nil || *person.Phone == "") {
			if err := s.personRepo.Update(ctx, tx, person.ID, map[string]interface{}{"phone": phone}); err != nil {
				return nil, false, fmt.Errorf("更新人员电话失败: %w", err)
			}
			person.Phone = &phone
		}
		return person, false, nil
	case ResolutionAmbiguous:
		return nil, false, fmt.Errorf("%w: %s/%s 匹配到 %d 人", ErrAmbiguousPerson, name, phone, len(res.Candidates))
	}

	if name == "" {
		name = phone
	}
	person := &model.Person{
		Name:     name,
		Role:     role,
		IsActive: true,
	}
	if phone != "" {
		person.Phone = &phone
	}
	if err := s.personRepo.Create(ctx, tx, person); err != nil {
		return nil, false, fmt.Errorf("创建人员失败: %w", err)
	}
	return person, true, nil
}

// ledgerSlot 冲抵候选：一笔收款的未分配余额，或一张销售单的未付金额
type ledgerSlot struct {
	id   int64
	date time.Time
	open decimal.Decimal
}

type slotFill struct {
	id     int64
	amount decimal.Decimal
}

// sweepFIFO 按日期先后（同日期按 ID）消耗候选，直到目标金额用完
func sweepFIFO(target decimal.Decimal, slots []ledgerSlot) []slotFill {
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].date.Equal(slots[j].date) {
			return slots[i].date.Before(slots[j].date)
		}
		return slots[i].id < slots[j].id
	})

	var fills []slotFill
	remaining := target
	for _, slot := range slots {
		if !remaining.IsPositive() {
			break
		}
		if !slot.open.IsPositive() {
			continue
		}
		take := money.Min(slot.open, remaining)
		fills = append(fills, slotFill{id: slot.id, amount: take})
		remaining = remaining.Sub(take)
	}
	return fills
}

// lockLedger 冲抵前对人员行加锁，之后的读取全部为加锁读
// 同一人员的冲抵在数据库层串行，且看到的是最新提交的收款与分配
func (s *AllocationService) lockLedger(ctx context.Context, tx *gorm.DB, personID int64) error {
	if err := s.personRepo.LockByID(ctx, tx, personID); err != nil {
		return translate(err)
	}
	return nil
}

// AutoAllocateCredit 自动冲抵（FIFO，最早的余额/欠款优先）
// 必须在事务内调用；返回实际写入的分配，可能少于目标金额（部分冲抵）
func (s *AllocationService) AutoAllocateCredit(ctx context.Context, tx *gorm.DB, req AutoAllocateRequest) ([]AppliedAllocation, error) {
	if err := s.lockLedger(ctx, tx, req.PersonID); err != nil {
		return nil, err
	}
	switch req.Direction {
	case InvoiceSeeksCredit:
		return s.invoiceSeeksCredit(ctx, tx, req)
	case PaymentSeeksInvoices:
		return s.paymentSeeksInvoices(ctx, tx, req)
	}
	return nil, validationError("未知的冲抵方向: %d", req.Direction)
}

func (s *AllocationService) invoiceSeeksCredit(ctx context.Context, tx *gorm.DB, req AutoAllocateRequest) ([]AppliedAllocation, error) {
	trans, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, req.TransactionID)
	if err != nil {
		return nil, translate(err)
	}
	if !model.CountsTowardBalance(trans.Status) {
		return nil, nil
	}
	target := trans.BalanceDue()
	if !target.IsPositive() {
		return nil, nil
	}

	payments, err := s.paymentRepo.ListByPersonForUpdate(ctx, tx, req.PersonID)
	if err != nil {
		return nil, fmt.Errorf("查询收款失败: %w", err)
	}
	slots := make([]ledgerSlot, 0, len(payments))
	for _, p := range payments {
		if !p.Amount.IsPositive() {
			continue
		}
		slots = append(slots, ledgerSlot{id: p.ID, date: p.PaymentDate, open: p.Unallocated()})
	}

	fills := sweepFIFO(target, slots)
	applied := make([]AppliedAllocation, 0, len(fills))
	for _, f := range fills {
		a := AppliedAllocation{PaymentID: f.id, TransactionID: trans.ID, Amount: f.amount}
		if err := s.persist(ctx, tx, a); err != nil {
			return nil, err
		}
		applied = append(applied, a)
	}
	return applied, nil
}

func (s *AllocationService) paymentSeeksInvoices(ctx context.Context, tx *gorm.DB, req AutoAllocateRequest) ([]AppliedAllocation, error) {
	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, req.PaymentID)
	if err != nil {
		return nil, translate(err)
	}
	if !payment.Amount.IsPositive() {
		return nil, nil
	}
	target := payment.Unallocated()
	if !target.IsPositive() {
		return nil, nil
	}

	transactions, err := s.transactionRepo.ListOpenByPersonForUpdate(ctx, tx, req.PersonID)
	if err != nil {
		return nil, fmt.Errorf("查询未结销售单失败: %w", err)
	}
	slots := make([]ledgerSlot, 0, len(transactions))
	for _, t := range transactions {
		slots = append(slots, ledgerSlot{id: t.ID, date: t.TransactionDate, open: t.BalanceDue()})
	}

	fills := sweepFIFO(target, slots)
	applied := make([]AppliedAllocation, 0, len(fills))
	for _, f := range fills {
		a := AppliedAllocation{PaymentID: payment.ID, TransactionID: f.id, Amount: f.amount}
		if err := s.persist(ctx, tx, a); err != nil {
			return nil, err
		}
		applied = append(applied, a)
	}
	return applied, nil
}

// SweepPersonCredit 把某人所有未分配的正向收款依次冲抵到其未结销售单
func (s *AllocationService) SweepPersonCredit(ctx context.Context, tx *gorm.DB, personID int64) ([]AppliedAllocation, error) {
	if err := s.lockLedger(ctx, tx, personID); err != nil {
		return nil, err
	}
	payments, err := s.paymentRepo.ListByPersonForUpdate(ctx, tx, personID)
	if err != nil {
		return nil, fmt.Errorf("查询收款失败: %w", err)
	}

	var applied []AppliedAllocation
	for _, p := range payments {
		if !p.Amount.IsPositive() || !p.Unallocated().IsPositive() {
			continue
		}
		fills, err := s.paymentSeeksInvoices(ctx, tx, AutoAllocateRequest{
			Direction: PaymentSeeksInvoices,
			PersonID:  personID,
			PaymentID: p.ID,
		})
		if err != nil {
			return nil, err
		}
		if len(fills) == 0 {
			// 已没有未结销售单
			break
		}
		applied = append(applied, fills...)
	}
	return applied, nil
}

func (s *AllocationService) persist(ctx context.Context, tx *gorm.DB, a AppliedAllocation) error {
	allocation := &model.PaymentAllocation{
		PaymentID:     a.PaymentID,
		TransactionID: a.TransactionID,
		Amount:        a.Amount,
	}
	if err := s.paymentRepo.CreateAllocation(ctx, tx, allocation); err != nil {
		return fmt.Errorf("写入分配记录失败: %w", err)
	}
	return nil
}

// describeApplied 审计用的分配明细
func describeApplied(applied []AppliedAllocation) string {
	if len(applied) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(applied))
	for _, a := range applied {
		parts = append(parts, fmt.Sprintf("Order #%d <- Payment #%d: %s", a.TransactionID, a.PaymentID, money.Format(a.Amount)))
	}
	return strings.Join(parts, ", ")
}

func sumApplied(applied []AppliedAllocation) decimal.Decimal {
	amounts := make([]decimal.Decimal, 0, len(applied))
	for _, a := range applied {
		amounts = append(amounts, a.Amount)
	}
	return money.Sum(amounts...)
}
