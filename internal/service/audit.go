package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"posledger/internal/config"
	"posledger/internal/model"
	"posledger/internal/repository"

	"gorm.io/gorm"
)

// AuditSink 审计日志写入方
// tx 为业务事务，审计与业务变更同时提交或同时回滚
type AuditSink interface {
	Append(ctx context.Context, tx *gorm.DB, entry *model.AuditLog) error
}

// LedgerEvent 写入本地消息表的账本事件
type LedgerEvent struct {
	Type    string
	Key     string
	Payload map[string]interface{}
}

// Recorder 在同一事务内记录审计日志与账本事件
type Recorder struct {
	audit      AuditSink
	outboxRepo *repository.OutboxRepository
	topic      string
	now        func() time.Time
}

func NewRecorder(db *gorm.DB, audit AuditSink, cfg *config.Config) *Recorder {
	return &Recorder{
		audit:      audit,
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      cfg.Kafka.Topic.LedgerEvents,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Record 写审计；event 非空时同时写本地消息
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, entry *model.AuditLog, event *LedgerEvent) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if entry.Actor == "" {
		entry.Actor = ActorFromContext(ctx)
	}
	if err := r.audit.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("写入审计日志失败: %w", err)
	}

	if event == nil {
		return nil
	}

	payload := map[string]interface{}{
		"event":       event.Type,
		"actor":       entry.Actor,
		"occurred_at": entry.Timestamp.Format(time.RFC3339),
	}
	for k, v := range event.Payload {
		payload[k] = v
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: event.Key,
		Topic:      r.topic,
		EventType:  event.Type,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := r.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// changesJSON 变更明细序列化，失败时退化为空数组
func changesJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// AuditService 审计日志查询
type AuditService struct {
	auditRepo *repository.AuditRepository
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{auditRepo: repository.NewAuditRepository(db)}
}

func (s *AuditService) List(ctx context.Context, entity string, page, pageSize int) ([]*model.AuditLog, int64, error) {
	return s.auditRepo.List(ctx, entity, page, pageSize)
}

func (s *AuditService) ListForEntity(ctx context.Context, entity string, entityID int64) ([]*model.AuditLog, error) {
	return s.auditRepo.ListByEntity(ctx, entity, fmt.Sprintf("%d", entityID))
}
