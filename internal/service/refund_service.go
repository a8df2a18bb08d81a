package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"posledger/internal/config"
	"posledger/internal/model"
	"posledger/internal/repository"
	"posledger/pkg/idgen"
	"posledger/pkg/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RefundService 销售单退款
// 只支持全额退款：退还该单已收的全部金额
type RefundService struct {
	db              *gorm.DB
	transactionRepo *repository.TransactionRepository
	paymentRepo     *repository.PaymentRepository
	stock           *StockService
	recorder        *Recorder
}

func NewRefundService(db *gorm.DB, cfg *config.Config, audit AuditSink) *RefundService {
	return &RefundService{
		db:              db,
		transactionRepo: repository.NewTransactionRepository(db),
		paymentRepo:     repository.NewPaymentRepository(db),
		stock:           NewStockService(db),
		recorder:        NewRecorder(db, audit, cfg),
	}
}

type RefundRequest struct {
	Reason string
	Method string // 退款方式，默认现金
}

type RefundResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Payment     *model.Payment     `json:"payment,omitempty"` // 未收款时为空
	Amount      decimal.Decimal    `json:"amount"`
}

// Refund 退款
//
//   - 已退款返回 ErrAlreadyRefunded，已取消返回 ErrInvalidState
//   - 已收金额大于 0 时生成一笔等额负数收款，并对本单做一笔等额负数分配
//   - 退回全部库存，状态置为 REFUNDED
func (s *RefundService) Refund(ctx context.Context, id int64, req *RefundRequest) (*RefundResult, error) {
	var result *RefundResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trans, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return translate(err)
		}

		switch trans.Status {
		case model.TransactionStatusRefunded:
			return fmt.Errorf("%w: %s", ErrAlreadyRefunded, orderLabel(trans.ID))
		case model.TransactionStatusCanceled:
			return fmt.Errorf("%w: %s 已取消，请删除而不是退款", ErrInvalidState, orderLabel(trans.ID))
		}

		reason := strings.TrimSpace(req.Reason)
		totalPaid := trans.TotalPaid()
		var refund *model.Payment
		if totalPaid.IsPositive() {
			method := strings.TrimSpace(req.Method)
			if method == "" {
				method = model.PaymentMethodCash
			}
			reference := "Refund for " + orderLabel(trans.ID)
			if reason != "" {
				reference += " - " + reason
			}
			refund = &model.Payment{
				PaymentNo:    idgen.GenerateRefundNo(),
				PaymentDate:  normalizeDate(nil),
				Amount:       totalPaid.Neg(),
				Method:       method,
				Reference:    reference,
				PersonID:     trans.PersonID,
				CustomerName: trans.CustomerName,
				EmployeeName: ActorFromContext(ctx),
			}
			if err := s.paymentRepo.Create(ctx, tx, refund); err != nil {
				return fmt.Errorf("创建退款记录失败: %w", err)
			}
			allocation := &model.PaymentAllocation{
				PaymentID:     refund.ID,
				TransactionID: trans.ID,
				Amount:        totalPaid.Neg(),
			}
			if err := s.paymentRepo.CreateAllocation(ctx, tx, allocation); err != nil {
				return fmt.Errorf("写入退款分配失败: %w", err)
			}
		}

		if err := s.stock.restoreItems(ctx, tx, trans.Items); err != nil {
			return err
		}

		if err := s.transactionRepo.UpdateStatus(ctx, tx, trans.ID, trans.Status, model.TransactionStatusRefunded); err != nil {
			return translate(err)
		}

		description := fmt.Sprintf("Refunded %s: amount %s; stock restored for %d line(s)",
			orderLabel(trans.ID), money.Format(totalPaid), len(trans.Items))
		if reason != "" {
			description += "; reason: " + reason
		}
		changes := map[string]interface{}{
			"from":   trans.Status,
			"amount": money.Format(totalPaid),
			"reason": reason,
		}
		if refund != nil {
			changes["payment_id"] = refund.ID
		}
		entry := &model.AuditLog{
			Action:      model.AuditActionRefund,
			Entity:      model.AuditEntityTransaction,
			EntityID:    idString(trans.ID),
			Description: description,
			Changes:     changesJSON(changes),
		}
		event := &LedgerEvent{
			Type: model.EventTransactionRefund,
			Key:  trans.OrderNo,
			Payload: map[string]interface{}{
				"transaction_id": trans.ID,
				"person_id":      trans.PersonID,
				"amount":         money.Format(totalPaid),
				"reason":         reason,
			},
		}
		if err := s.recorder.Record(ctx, tx, entry, event); err != nil {
			return err
		}

		saved, err := s.transactionRepo.GetByID(ctx, tx, trans.ID)
		if err != nil {
			return err
		}
		if refund != nil {
			if refund, err = s.paymentRepo.GetByID(ctx, tx, refund.ID); err != nil {
				return err
			}
		}
		result = &RefundResult{Transaction: saved, Payment: refund, Amount: totalPaid}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[RefundService] 退款成功: id=%d, amount=%s", id, money.Format(result.Amount))
	return result, nil
}
