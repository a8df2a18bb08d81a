package job

import (
	"context"
	"log"
	"time"

	"posledger/internal/service"
)

// NameSyncer 姓名快照对账
type NameSyncer interface {
	SyncNames(ctx context.Context) (*service.NameSyncResult, error)
}

// NameSyncJob 定时执行姓名快照对账
type NameSyncJob struct {
	syncer   NameSyncer
	stopCh   chan struct{}
	interval time.Duration
}

func NewNameSyncJob(syncer NameSyncer, interval time.Duration) *NameSyncJob {
	return &NameSyncJob{
		syncer:   syncer,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *NameSyncJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		log.Println("[NameSyncJob] 未配置执行间隔，任务不启动")
		return
	}
	log.Println("[NameSyncJob] 姓名对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[NameSyncJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[NameSyncJob] 任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *NameSyncJob) Stop() {
	close(j.stopCh)
}

func (j *NameSyncJob) runOnce(ctx context.Context) {
	result, err := j.syncer.SyncNames(ctx)
	if err != nil {
		log.Printf("[NameSyncJob] 对账失败: %v", err)
		return
	}
	if result.Changed() {
		log.Printf("[NameSyncJob] 对账完成: refreshed=%d, linked=%d, created=%d, skipped=%d",
			result.Refreshed, result.Linked, result.Created, result.Skipped)
	}
}
