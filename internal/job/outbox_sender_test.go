package job

import (
	"context"
	"path/filepath"
	"testing"

	"posledger/internal/config"
	"posledger/internal/infrastructure/database"
	"posledger/internal/model"
	"posledger/internal/repository"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	db, err := database.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedOutbox(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), nil, &model.OutboxMessage{
			MessageKey: "ORD1",
			Topic:      "posledger.ledger_events",
			EventType:  model.EventTransactionCreated,
			Payload:    `{"event":"transaction.created"}`,
			Status:     model.OutboxStatusPending,
		}))
	}
}

func TestOutboxSenderMarksSent(t *testing.T) {
	db := newTestDB(t)
	seedOutbox(t, db, 2)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	defer producer.Close()

	sender := NewOutboxSender(db, producer, config.Default())
	assert.Equal(t, 2, sender.processPendingMessages(context.Background()))

	repo := repository.NewOutboxRepository(db)
	sent, err := repo.CountByStatus(context.Background(), model.OutboxStatusSent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sent)

	assert.Equal(t, 0, sender.processPendingMessages(context.Background()))
}

func TestOutboxSenderRetriesThenFails(t *testing.T) {
	db := newTestDB(t)
	seedOutbox(t, db, 1)
	cfg := config.Default()
	cfg.Business.MaxRetryCount = 2

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	defer producer.Close()

	sender := NewOutboxSender(db, producer, cfg)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	assert.Equal(t, 0, sender.processPendingMessages(ctx))
	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	assert.Equal(t, 0, sender.processPendingMessages(ctx))
	failed, err := repo.CountByStatus(ctx, model.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	pending, err = repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
