package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"posledger/internal/config"
	"posledger/internal/model"
	"posledger/internal/repository"
	"posledger/pkg/idgen"
	"posledger/pkg/money"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	transactionRepo *repository.TransactionRepository
	paymentRepo     *repository.PaymentRepository
	personRepo      *repository.PersonRepository
	stock           *StockService
	allocator       *AllocationService
	recorder        *Recorder
}

func NewTransactionService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, audit AuditSink) *TransactionService {
	return &TransactionService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		transactionRepo: repository.NewTransactionRepository(db),
		paymentRepo:     repository.NewPaymentRepository(db),
		personRepo:      repository.NewPersonRepository(db),
		stock:           NewStockService(db),
		allocator:       NewAllocationService(db),
		recorder:        NewRecorder(db, audit, cfg),
	}
}

// PersonRef 人员引用：优先使用 ID，否则按电话/姓名匹配或新建
// 三者都为空表示不关联
type PersonRef struct {
	ID    *int64 `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (r PersonRef) IsEmpty() bool {
	return r.ID == nil && strings.TrimSpace(r.Name) == "" && strings.TrimSpace(r.Phone) == ""
}

type TransactionItemRequest struct {
	ProductID int64
	Quantity  int
	UnitPrice *decimal.Decimal // 为空时取商品售价
}

type CreateTransactionRequest struct {
	TransactionDate *time.Time
	Customer        PersonRef
	IsDelivery      bool
	Driver          PersonRef
	Note            string
	EmployeeName    string
	Discount        decimal.Decimal
	Items           []TransactionItemRequest
}

// EditTransactionRequest 创建后只允许修改备注、顾客、司机、经办员工
// 字段为 nil 表示不修改
type EditTransactionRequest struct {
	Note         *string
	EmployeeName *string
	Customer     *PersonRef
	Driver       *PersonRef
}

type TransactionResult struct {
	Transaction *model.Transaction  `json:"transaction"`
	Applied     []AppliedAllocation `json:"applied"`
}

func (s *TransactionService) resolveRef(ctx context.Context, tx *gorm.DB, ref PersonRef, role string) (*model.Person, error) {
	if ref.ID != nil {
		person, err := s.personRepo.GetByID(ctx, tx, *ref.ID)
		if err != nil {
			return nil, translate(err)
		}
		return person, nil
	}
	person, _, err := s.allocator.ResolveOrCreatePerson(ctx, tx, ref.Name, ref.Phone, role)
	return person, err
}

func validateCreate(req *CreateTransactionRequest) error {
	if len(req.Items) == 0 {
		return validationError("销售单至少需要一个商品")
	}
	if req.Discount.IsNegative() {
		return validationError("折扣不能为负数")
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return validationError("商品 %d 数量必须大于0", line.ProductID)
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			return validationError("商品 %d 单价不能为负数", line.ProductID)
		}
	}
	return nil
}

// Create 创建销售单
//
// 在一个数据库事务内依次完成：
//  1. 逐行扣减库存并记录销售成本，任一行失败整单回滚
//  2. 计算总额（小计之和减折扣，最低为 0）
//  3. 匹配或新建顾客，配送单同样处理司机
//  4. 写入销售单，配送单初始为 PENDING，其余为 COMPLETED
//  5. 用顾客已有的收款余额按 FIFO 冲抵本单
//  6. 写审计日志与账本事件
func (s *TransactionService) Create(ctx context.Context, req *CreateTransactionRequest) (*TransactionResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	date := normalizeDate(req.TransactionDate)
	scope := newLockScope(s.redisClient, s.cfg.Business.LockTimeout())
	defer scope.release()

	var result *TransactionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := make([]model.TransactionItem, 0, len(req.Items))
		subtotal := decimal.Zero
		for _, line := range req.Items {
			unitCost, product, err := s.stock.ReserveStock(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			price := product.Price
			if line.UnitPrice != nil {
				price = money.Round(*line.UnitPrice)
			}
			lineTotal := money.Round(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			items = append(items, model.TransactionItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				UnitPrice:   price,
				UnitCost:    unitCost,
				Subtotal:    lineTotal,
			})
			subtotal = subtotal.Add(lineTotal)
		}

		discount := money.Round(req.Discount)
		trans := &model.Transaction{
			OrderNo:         idgen.GenerateOrderNo(),
			TransactionDate: date,
			IsDelivery:      req.IsDelivery,
			Note:            strings.TrimSpace(req.Note),
			EmployeeName:    strings.TrimSpace(req.EmployeeName),
			Discount:        discount,
			TotalAmount:     model.ComputeTotal(subtotal, discount),
			Status:          model.TransactionStatusCompleted,
			Items:           items,
		}
		if req.IsDelivery {
			trans.Status = model.TransactionStatusPending
		}

		customer, err := s.resolveRef(ctx, tx, req.Customer, model.RoleCustomer)
		if err != nil {
			return err
		}
		if customer != nil {
			trans.PersonID = &customer.ID
			trans.CustomerName = customer.Name
		}

		if req.IsDelivery {
			driver, err := s.resolveRef(ctx, tx, req.Driver, model.RoleDriver)
			if err != nil {
				return err
			}
			if driver != nil {
				trans.DriverID = &driver.ID
			}
		}

		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("创建销售单失败: %w", err)
		}

		var applied []AppliedAllocation
		if customer != nil {
			if err := scope.person(ctx, customer.ID); err != nil {
				return err
			}
			applied, err = s.allocator.AutoAllocateCredit(ctx, tx, AutoAllocateRequest{
				Direction:     InvoiceSeeksCredit,
				PersonID:      customer.ID,
				TransactionID: trans.ID,
			})
			if err != nil {
				return err
			}
		}

		lines := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			lines = append(lines, map[string]interface{}{
				"product_id": item.ProductID,
				"name":       item.ProductName,
				"quantity":   item.Quantity,
				"unit_price": money.Format(item.UnitPrice),
				"subtotal":   money.Format(item.Subtotal),
			})
		}
		entry := &model.AuditLog{
			Action:   model.AuditActionSale,
			Entity:   model.AuditEntityTransaction,
			EntityID: idString(trans.ID),
			Description: fmt.Sprintf("%s on %s for %s: %d line(s), total %s, credit applied %s",
				orderLabel(trans.ID), date.Format("2006-01-02"), displayName(trans.CustomerName),
				len(items), money.Format(trans.TotalAmount), money.Format(sumApplied(applied))),
			Changes: changesJSON(map[string]interface{}{
				"date":     date.Format(time.RFC3339),
				"customer": trans.CustomerName,
				"items":    lines,
				"discount": money.Format(discount),
				"total":    money.Format(trans.TotalAmount),
				"applied":  applied,
			}),
		}
		event := &LedgerEvent{
			Type: model.EventTransactionCreated,
			Key:  trans.OrderNo,
			Payload: map[string]interface{}{
				"transaction_id": trans.ID,
				"order_no":       trans.OrderNo,
				"person_id":      trans.PersonID,
				"total_amount":   money.Format(trans.TotalAmount),
				"status":         trans.Status,
			},
		}
		if err := s.recorder.Record(ctx, tx, entry, event); err != nil {
			return err
		}

		saved, err := s.transactionRepo.GetByID(ctx, tx, trans.ID)
		if err != nil {
			return err
		}
		result = &TransactionResult{Transaction: saved, Applied: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[TransactionService] 销售单创建成功: id=%d, orderNo=%s, total=%s, status=%s",
		result.Transaction.ID, result.Transaction.OrderNo, money.Format(result.Transaction.TotalAmount), result.Transaction.Status)
	return result, nil
}

// UpdateStatus 状态流转
// 目标状态与当前状态相同时直接返回；取消退回库存，恢复重新扣减库存
// REFUNDED 只能通过 Refund 进入
func (s *TransactionService) UpdateStatus(ctx context.Context, id int64, newStatus string) (*TransactionResult, error) {
	if !model.IsValidTransactionStatus(newStatus) {
		return nil, validationError("未知的销售单状态: %s", newStatus)
	}
	if newStatus == model.TransactionStatusRefunded {
		return nil, fmt.Errorf("%w: 退款请使用退款接口", ErrInvalidState)
	}

	scope := newLockScope(s.redisClient, s.cfg.Business.LockTimeout())
	defer scope.release()

	var result *TransactionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trans, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translate(err)
		}

		if trans.Status == newStatus {
			result = &TransactionResult{Transaction: trans}
			return nil
		}
		if trans.Status == model.TransactionStatusRefunded {
			return fmt.Errorf("%w: %s 已退款", ErrInvalidState, orderLabel(trans.ID))
		}
		if !model.CanTransitionTo(trans.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, trans.Status, newStatus)
		}

		oldStatus := trans.Status
		stockNote := ""
		switch {
		case model.HoldsStock(oldStatus) && !model.HoldsStock(newStatus):
			if err := s.stock.restoreItems(ctx, tx, trans.Items); err != nil {
				return err
			}
			stockNote = "stock restored"
		case !model.HoldsStock(oldStatus) && model.HoldsStock(newStatus):
			if err := s.stock.reserveItems(ctx, tx, trans.Items); err != nil {
				return err
			}
			stockNote = "stock re-deducted"
		}

		if err := s.transactionRepo.UpdateStatus(ctx, tx, trans.ID, oldStatus, newStatus); err != nil {
			return translate(err)
		}

		var applied []AppliedAllocation
		if oldStatus == model.TransactionStatusCanceled && trans.PersonID != nil {
			if err := scope.person(ctx, *trans.PersonID); err != nil {
				return err
			}
			applied, err = s.allocator.AutoAllocateCredit(ctx, tx, AutoAllocateRequest{
				Direction:     InvoiceSeeksCredit,
				PersonID:      *trans.PersonID,
				TransactionID: trans.ID,
			})
			if err != nil {
				return err
			}
		}

		description := fmt.Sprintf("%s status changed from %s to %s", orderLabel(trans.ID), oldStatus, newStatus)
		if stockNote != "" {
			description += "; " + stockNote
		}
		if len(applied) > 0 {
			description += "; credit applied: " + describeApplied(applied)
		}
		entry := &model.AuditLog{
			Action:      model.AuditActionUpdateStatus,
			Entity:      model.AuditEntityTransaction,
			EntityID:    idString(trans.ID),
			Description: description,
			Changes: changesJSON(map[string]interface{}{
				"from":    oldStatus,
				"to":      newStatus,
				"stock":   stockNote,
				"applied": applied,
			}),
		}
		event := &LedgerEvent{
			Type: model.EventTransactionStatus,
			Key:  trans.OrderNo,
			Payload: map[string]interface{}{
				"transaction_id": trans.ID,
				"from":           oldStatus,
				"to":             newStatus,
			},
		}
		if err := s.recorder.Record(ctx, tx, entry, event); err != nil {
			return err
		}

		saved, err := s.transactionRepo.GetByID(ctx, tx, trans.ID)
		if err != nil {
			return err
		}
		result = &TransactionResult{Transaction: saved, Applied: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete 删除销售单
// 退回库存，解除全部分配（已收的钱回到收款余额），不生成退款记录
// 已退款的销售单不可删除，退款收款与原分配需成对保留
func (s *TransactionService) Delete(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trans, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translate(err)
		}
		if trans.Status == model.TransactionStatusRefunded {
			return fmt.Errorf("%w: %s 已退款，不能删除", ErrInvalidState, orderLabel(trans.ID))
		}

		stockRestored := false
		if model.HoldsStock(trans.Status) {
			if err := s.stock.restoreItems(ctx, tx, trans.Items); err != nil {
				return err
			}
			stockRestored = true
		}

		allocations, err := s.paymentRepo.ListAllocationsByTransaction(ctx, tx, trans.ID)
		if err != nil {
			return fmt.Errorf("查询分配失败: %w", err)
		}
		releasedLines := make([]map[string]interface{}, 0, len(allocations))
		for _, a := range allocations {
			releasedLines = append(releasedLines, map[string]interface{}{
				"payment_id": a.PaymentID,
				"amount":     money.Format(a.Amount),
			})
		}

		released, err := s.paymentRepo.DeleteAllocationsByTransaction(ctx, tx, trans.ID)
		if err != nil {
			return fmt.Errorf("解除分配失败: %w", err)
		}

		if err := s.transactionRepo.Delete(ctx, tx, trans.ID); err != nil {
			return translate(err)
		}

		description := fmt.Sprintf("Deleted %s (%s, total %s); %d allocation(s) released",
			orderLabel(trans.ID), displayName(trans.CustomerName), money.Format(trans.TotalAmount), released)
		if stockRestored {
			description += fmt.Sprintf("; stock restored for %d line(s)", len(trans.Items))
		}
		entry := &model.AuditLog{
			Action:      model.AuditActionDelete,
			Entity:      model.AuditEntityTransaction,
			EntityID:    idString(trans.ID),
			Description: description,
			Changes: changesJSON(map[string]interface{}{
				"status":              trans.Status,
				"total":               money.Format(trans.TotalAmount),
				"released_allocation": released,
				"released":            releasedLines,
				"stock_restored":      stockRestored,
			}),
		}
		event := &LedgerEvent{
			Type: model.EventTransactionDeleted,
			Key:  trans.OrderNo,
			Payload: map[string]interface{}{
				"transaction_id": trans.ID,
				"person_id":      trans.PersonID,
			},
		}
		return s.recorder.Record(ctx, tx, entry, event)
	})
	if err != nil {
		return err
	}

	log.Printf("[TransactionService] 销售单已删除: id=%d", id)
	return nil
}

// Edit 修改备注、顾客、司机、经办员工，每个字段变更单独记录
func (s *TransactionService) Edit(ctx context.Context, id int64, req *EditTransactionRequest) (*TransactionResult, error) {
	scope := newLockScope(s.redisClient, s.cfg.Business.LockTimeout())
	defer scope.release()

	var result *TransactionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trans, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translate(err)
		}

		updates := map[string]interface{}{}
		var changes []string

		if req.Note != nil {
			note := strings.TrimSpace(*req.Note)
			if note != trans.Note {
				updates["note"] = note
				changes = append(changes, fmt.Sprintf("Note changed from %q to %q", trans.Note, note))
			}
		}

		if req.EmployeeName != nil {
			employee := strings.TrimSpace(*req.EmployeeName)
			if employee != trans.EmployeeName {
				updates["employee_name"] = employee
				changes = append(changes, fmt.Sprintf("Employee changed from %q to %q", trans.EmployeeName, employee))
			}
		}

		if req.Driver != nil {
			driver, err := s.resolveRef(ctx, tx, *req.Driver, model.RoleDriver)
			if err != nil {
				return err
			}
			var newDriverID *int64
			if driver != nil {
				newDriverID = &driver.ID
			}
			if !sameID(trans.DriverID, newDriverID) {
				updates["driver_id"] = newDriverID
				changes = append(changes, fmt.Sprintf("Driver changed from %s to %s", optionalID(trans.DriverID), optionalID(newDriverID)))
			}
		}

		var relinked *model.Person
		customerChanged := false
		if req.Customer != nil {
			customer, err := s.resolveRef(ctx, tx, *req.Customer, model.RoleCustomer)
			if err != nil {
				return err
			}
			var newPersonID *int64
			newName := ""
			if customer != nil {
				newPersonID = &customer.ID
				newName = customer.Name
			}
			if !sameID(trans.PersonID, newPersonID) {
				customerChanged = true
				relinked = customer
				updates["person_id"] = newPersonID
				updates["customer_name"] = newName
				changes = append(changes, fmt.Sprintf("Customer changed from %s to %s",
					displayName(trans.CustomerName), displayName(newName)))
			}
		}

		if len(changes) == 0 {
			result = &TransactionResult{Transaction: trans}
			return nil
		}

		if err := s.transactionRepo.Update(ctx, tx, trans.ID, updates); err != nil {
			return translate(err)
		}

		var applied []AppliedAllocation
		if customerChanged {
			notes, err := s.reattributePayments(ctx, tx, trans, relinked)
			if err != nil {
				return err
			}
			changes = append(changes, notes...)

			if relinked != nil && model.CountsTowardBalance(trans.Status) {
				if err := scope.person(ctx, relinked.ID); err != nil {
					return err
				}
				applied, err = s.allocator.AutoAllocateCredit(ctx, tx, AutoAllocateRequest{
					Direction:     InvoiceSeeksCredit,
					PersonID:      relinked.ID,
					TransactionID: trans.ID,
				})
				if err != nil {
					return err
				}
				if len(applied) > 0 {
					changes = append(changes, "Credit applied: "+describeApplied(applied))
				}
			}
		}

		entry := &model.AuditLog{
			Action:      model.AuditActionUpdate,
			Entity:      model.AuditEntityTransaction,
			EntityID:    idString(trans.ID),
			Description: fmt.Sprintf("Edited %s: %s", orderLabel(trans.ID), strings.Join(changes, "; ")),
			Changes:     changesJSON(changes),
		}
		event := &LedgerEvent{
			Type: model.EventTransactionUpdated,
			Key:  trans.OrderNo,
			Payload: map[string]interface{}{
				"transaction_id": trans.ID,
				"changes":        changes,
			},
		}
		if err := s.recorder.Record(ctx, tx, entry, event); err != nil {
			return err
		}

		saved, err := s.transactionRepo.GetByID(ctx, tx, trans.ID)
		if err != nil {
			return err
		}
		result = &TransactionResult{Transaction: saved, Applied: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// reattributePayments 顾客变更后，只迁移专属于本单的收款
// 收款的其它分配如果都属于新顾客，也视为专属
func (s *TransactionService) reattributePayments(ctx context.Context, tx *gorm.DB, trans *model.Transaction, customer *model.Person) ([]string, error) {
	seen := make(map[int64]struct{})
	var paymentIDs []int64
	for _, a := range trans.Allocations {
		if _, ok := seen[a.PaymentID]; ok {
			continue
		}
		seen[a.PaymentID] = struct{}{}
		paymentIDs = append(paymentIDs, a.PaymentID)
	}

	payments, err := s.paymentRepo.ListByIDs(ctx, tx, paymentIDs)
	if err != nil {
		return nil, fmt.Errorf("查询收款失败: %w", err)
	}

	var notes []string
	for _, p := range payments {
		exclusive, err := s.exclusiveTo(ctx, tx, p, trans.ID, customer)
		if err != nil {
			return nil, err
		}
		if !exclusive {
			continue
		}

		updates := map[string]interface{}{"person_id": nil, "customer_name": ""}
		note := fmt.Sprintf("%s unlinked from customer", paymentLabel(p))
		if customer != nil {
			updates["person_id"] = customer.ID
			updates["customer_name"] = customer.Name
			note = fmt.Sprintf("%s reassigned to %s", paymentLabel(p), customer.Name)
		}
		if err := s.paymentRepo.Update(ctx, tx, p.ID, updates); err != nil {
			return nil, translate(err)
		}
		notes = append(notes, note)
	}
	return notes, nil
}

func (s *TransactionService) exclusiveTo(ctx context.Context, tx *gorm.DB, p *model.Payment, transactionID int64, customer *model.Person) (bool, error) {
	for _, a := range p.Allocations {
		if a.TransactionID == transactionID {
			continue
		}
		if customer == nil {
			return false, nil
		}
		other, err := s.transactionRepo.GetByID(ctx, tx, a.TransactionID)
		if err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				return false, nil
			}
			return false, err
		}
		if other.PersonID == nil || *other.PersonID != customer.ID {
			return false, nil
		}
	}
	return true, nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *TransactionService) Get(ctx context.Context, id int64) (*model.Transaction, error) {
	trans, err := s.transactionRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translate(err)
	}
	return trans, nil
}

// ListForPerson 某人的全部销售单，最新在前
func (s *TransactionService) ListForPerson(ctx context.Context, personID int64) ([]*model.Transaction, error) {
	if _, err := s.personRepo.GetByID(ctx, nil, personID); err != nil {
		return nil, translate(err)
	}
	transactions, err := s.transactionRepo.ListByPerson(ctx, nil, personID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(transactions)-1; i < j; i, j = i+1, j-1 {
		transactions[i], transactions[j] = transactions[j], transactions[i]
	}
	return transactions, nil
}

// ListForDriver 司机的配送单，status 为空时返回全部
func (s *TransactionService) ListForDriver(ctx context.Context, driverID int64, status string) ([]*model.Transaction, error) {
	if status != "" && !model.IsValidTransactionStatus(status) {
		return nil, validationError("未知的销售单状态: %s", status)
	}
	if _, err := s.personRepo.GetByID(ctx, nil, driverID); err != nil {
		return nil, translate(err)
	}
	return s.transactionRepo.ListByDriver(ctx, driverID, status)
}

func (s *TransactionService) List(ctx context.Context, status string, page, pageSize int) ([]*model.Transaction, int64, error) {
	if status != "" && !model.IsValidTransactionStatus(status) {
		return nil, 0, validationError("未知的销售单状态: %s", status)
	}
	return s.transactionRepo.List(ctx, status, page, pageSize)
}
