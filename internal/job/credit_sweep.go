package job

import (
	"context"
	"log"
	"time"
)

// CreditApplier 把未分配的收款冲抵到未结销售单
type CreditApplier interface {
	ApplyAllOutstandingCredit(ctx context.Context) (int, error)
}

// CreditSweepJob 定时冲抵
// 删除销售单后释放出的收款余额会在这里重新冲抵到同一人员的其它欠款
type CreditSweepJob struct {
	applier  CreditApplier
	stopCh   chan struct{}
	interval time.Duration
}

func NewCreditSweepJob(applier CreditApplier, interval time.Duration) *CreditSweepJob {
	return &CreditSweepJob{
		applier:  applier,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *CreditSweepJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		log.Println("[CreditSweepJob] 未配置执行间隔，任务不启动")
		return
	}
	log.Println("[CreditSweepJob] 冲抵任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[CreditSweepJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[CreditSweepJob] 任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CreditSweepJob) Stop() {
	close(j.stopCh)
}

func (j *CreditSweepJob) runOnce(ctx context.Context) {
	count, err := j.applier.ApplyAllOutstandingCredit(ctx)
	if err != nil {
		log.Printf("[CreditSweepJob] 冲抵失败: %v", err)
		return
	}
	if count > 0 {
		log.Printf("[CreditSweepJob] 本次写入 %d 条分配", count)
	}
}
