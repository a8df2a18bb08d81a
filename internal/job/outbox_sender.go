package job

import (
	"context"
	"log"
	"time"

	"posledger/internal/config"
	"posledger/internal/infrastructure/mq"
	"posledger/internal/model"
	"posledger/internal/repository"

	"github.com/IBM/sarama"
	"gorm.io/gorm"
)

// OutboxSender 把本地消息表中的账本事件投递到 Kafka
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	producer   sarama.SyncProducer
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, producer sarama.SyncProducer, cfg *config.Config) *OutboxSender {
	batchSize := cfg.Business.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		producer:   producer,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  batchSize,
		maxRetry:   cfg.Business.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	if s.producer == nil {
		log.Println("[OutboxSender] 未配置 Kafka 生产者，任务不启动")
		return
	}
	log.Println("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 返回本轮投递成功的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.ListPending(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := mq.SendMessage(s.producer, msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
			return false
		}
		return true
	}

	log.Printf("[OutboxSender] 消息发送失败: id=%d, event=%s, err=%v", msg.ID, msg.EventType, err)

	if err := s.outboxRepo.MarkRetry(ctx, msg, s.maxRetry); err != nil {
		log.Printf("[OutboxSender] 更新重试次数失败: id=%d, err=%v", msg.ID, err)
	} else if msg.RetryCount+1 >= s.maxRetry {
		log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
	}
	return false
}
