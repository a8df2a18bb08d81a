package service

import (
	"context"
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

type PaymentService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	paymentRepo *repository.PaymentRepository
	personRepo  *repository.PersonRepository
	allocator   *AllocationService
	recorder    *Recorder
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, audit AuditSink) *PaymentService {
	return &PaymentService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		paymentRepo: repository.NewPaymentRepository(db),
		personRepo:  repository.NewPersonRepository(db),
		allocator:   NewAllocationService(db),
		recorder:    NewRecorder(db, audit, cfg),
	}
}

type RecordPaymentRequest struct {
	PaymentDate  *time.Time
	Amount       decimal.Decimal
	Method       string
	Reference    string
	PersonID     *int64
	CustomerName string
	Phone        string
	EmployeeName string
	Allocations  []ManualAllocation
	AutoAllocate bool // 未指定手工分配时按 FIFO 冲抵该人员的未结销售单
}

type PaymentResult struct {
	Payment *model.Payment      `json:"payment"`
	Applied []AppliedAllocation `json:"applied"`
}

// RecordPayment 登记收款
//
// 人员优先取 person_id，其次由手工分配的第一张销售单推断，最后按姓名/电话匹配或新建顾客
func (s *PaymentService) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*PaymentResult, error) {
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, validationError("收款金额必须大于0")
	}

	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = model.PaymentMethodCash
	}

	scope := newLockScope(s.redisClient, s.cfg.Business.LockTimeout())
	defer scope.release()
	if req.PersonID != nil {
		if err := scope.person(ctx, *req.PersonID); err != nil {
			return nil, err
		}
	}

	var result *PaymentResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment := &model.Payment{
			PaymentNo:    idgen.GeneratePaymentNo(),
			PaymentDate:  normalizeDate(req.PaymentDate),
			Amount:       amount,
			Method:       method,
			Reference:    strings.TrimSpace(req.Reference),
			CustomerName: strings.TrimSpace(req.CustomerName),
			EmployeeName: strings.TrimSpace(req.EmployeeName),
		}

		if req.PersonID != nil {
			person, err := s.personRepo.GetByID(ctx, tx, *req.PersonID)
			if err != nil {
				return translate(err)
			}
			payment.PersonID = &person.ID
			payment.CustomerName = person.Name
		}

		var manual []ManualAllocation
		if len(req.Allocations) > 0 {
			var err error
			manual, _, err = s.allocator.ValidateManualAllocations(ctx, tx, payment, req.Allocations)
			if err != nil {
				return err
			}
		}

		if payment.PersonID == nil {
			person, _, err := s.allocator.ResolveOrCreatePerson(ctx, tx, req.CustomerName, req.Phone, model.RoleCustomer)
			if err != nil {
				return err
			}
			if person != nil {
				payment.PersonID = &person.ID
				payment.CustomerName = person.Name
			}
		}

		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("创建收款记录失败: %w", err)
		}

		var applied []AppliedAllocation
		switch {
		case len(manual) > 0:
			for _, a := range manual {
				allocation := &model.PaymentAllocation{
					PaymentID:     payment.ID,
					TransactionID: a.TransactionID,
					Amount:        a.Amount,
				}
				if err := s.paymentRepo.CreateAllocation(ctx, tx, allocation); err != nil {
					return fmt.Errorf("写入分配记录失败: %w", err)
				}
				applied = append(applied, AppliedAllocation{
					PaymentID:     payment.ID,
					TransactionID: a.TransactionID,
					Amount:        allocation.Amount,
				})
			}
		case req.AutoAllocate && payment.PersonID != nil:
			// 人员在事务内才确定时补加分布式锁，已持有则直接返回
			if err := scope.person(ctx, *payment.PersonID); err != nil {
				return err
			}
			var err error
			applied, err = s.allocator.AutoAllocateCredit(ctx, tx, AutoAllocateRequest{
				Direction: PaymentSeeksInvoices,
				PersonID:  *payment.PersonID,
				PaymentID: payment.ID,
			})
			if err != nil {
				return err
			}
		}

		entry := &model.AuditLog{
			Action:   model.AuditActionPayment,
			Entity:   model.AuditEntityPayment,
			EntityID: idString(payment.ID),
			Description: fmt.Sprintf("%s of %s from %s; applied: %s",
				paymentLabel(payment), money.Format(payment.Amount), displayName(payment.CustomerName), describeApplied(applied)),
			Changes: changesJSON(map[string]interface{}{
				"amount":    money.Format(payment.Amount),
				"method":    payment.Method,
				"person_id": payment.PersonID,
				"applied":   applied,
			}),
		}
		event := &LedgerEvent{
			Type: model.EventPaymentRecorded,
			Key:  payment.PaymentNo,
			Payload: map[string]interface{}{
				"payment_id": payment.ID,
				"person_id":  payment.PersonID,
				"amount":     money.Format(payment.Amount),
				"applied":    applied,
			},
		}
		if err := s.recorder.Record(ctx, tx, entry, event); err != nil {
			return err
		}

		saved, err := s.paymentRepo.GetByID(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		result = &PaymentResult{Payment: saved, Applied: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[PaymentService] 收款登记成功: id=%d, amount=%s, applied=%s",
		result.Payment.ID, money.Format(result.Payment.Amount), money.Format(sumApplied(result.Applied)))
	return result, nil
}

// DeletePayment 删除收款及其全部分配，相关销售单的未付金额随之恢复
func (s *PaymentService) DeletePayment(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.paymentRepo.GetByID(ctx, tx, id)
		if err != nil {
			return translate(err)
		}

		if err := s.paymentRepo.Delete(ctx, tx, payment.ID); err != nil {
			return translate(err)
		}

		entry := &model.AuditLog{
			Action:   model.AuditActionDelete,
			Entity:   model.AuditEntityPayment,
			EntityID: idString(payment.ID),
			Description: fmt.Sprintf("Deleted %s of %s from %s; %d allocation(s) removed",
				paymentLabel(payment), money.Format(payment.Amount), displayName(payment.CustomerName), len(payment.Allocations)),
			Changes: changesJSON(map[string]interface{}{
				"amount":      money.Format(payment.Amount),
				"allocations": payment.Allocations,
			}),
		}
		event := &LedgerEvent{
			Type: model.EventPaymentDeleted,
			Key:  payment.PaymentNo,
			Payload: map[string]interface{}{
				"payment_id": payment.ID,
				"person_id":  payment.PersonID,
			},
		}
		return s.recorder.Record(ctx, tx, entry, event)
	})
}

// ApplyOutstandingCredit 把某人未分配的收款冲抵到其未结销售单
func (s *PaymentService) ApplyOutstandingCredit(ctx context.Context, personID int64) ([]AppliedAllocation, error) {
	scope := newLockScope(s.redisClient, s.cfg.Business.LockTimeout())
	defer scope.release()

	if err := scope.person(ctx, personID); err != nil {
		return nil, err
	}

	var applied []AppliedAllocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = s.allocator.SweepPersonCredit(ctx, tx, personID)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return nil
		}

		entry := &model.AuditLog{
			Action:      model.AuditActionAllocate,
			Entity:      model.AuditEntityPerson,
			EntityID:    idString(personID),
			Description: "Credit applied: " + describeApplied(applied),
			Changes:     changesJSON(applied),
		}
		event := &LedgerEvent{
			Type: model.EventCreditApplied,
			Key:  idString(personID),
			Payload: map[string]interface{}{
				"person_id": personID,
				"applied":   applied,
			},
		}
		return s.recorder.Record(ctx, tx, entry, event)
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// ApplyAllOutstandingCredit 对所有有收款的人员执行冲抵，返回写入的分配条数
func (s *PaymentService) ApplyAllOutstandingCredit(ctx context.Context) (int, error) {
	personIDs, err := s.paymentRepo.PersonIDsWithPositivePayments(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, personID := range personIDs {
		applied, err := s.ApplyOutstandingCredit(ctx, personID)
		if err != nil {
			log.Printf("[PaymentService] 冲抵失败: personID=%d, err=%v", personID, err)
			continue
		}
		count += len(applied)
	}
	return count, nil
}

func (s *PaymentService) Get(ctx context.Context, id int64) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translate(err)
	}
	return payment, nil
}

func (s *PaymentService) List(ctx context.Context, page, pageSize int) ([]*model.Payment, int64, error) {
	return s.paymentRepo.List(ctx, page, pageSize)
}
