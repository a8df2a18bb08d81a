package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posledger/internal/config"
	"posledger/internal/handler"
	"posledger/internal/infrastructure/cache"
	"posledger/internal/infrastructure/database"
	"posledger/internal/infrastructure/mq"
	"posledger/internal/job"
	"posledger/internal/repository"
	"posledger/internal/service"
	"posledger/pkg/idgen"
)

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("POSLEDGER_CONFIG"); p != "" {
		configPath = p
	}

	// 加载配置
	cfg := config.LoadConfig(configPath)

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化数据库
	db := database.InitDatabase(&cfg.Database)

	// 初始化 Redis（未启用时为 nil，分布式锁退化为进程内事务串行）
	redisClient := cache.InitRedis(&cfg.Redis)
	defer cache.CloseRedis()

	// 初始化 Kafka
	producer := mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	audit := repository.NewAuditRepository(db)
	personService := service.NewPersonService(db, cfg, audit)
	paymentService := service.NewPaymentService(db, redisClient, cfg, audit)

	outboxSender := job.NewOutboxSender(db, producer, cfg)
	go outboxSender.Start(ctx)

	nameSyncJob := job.NewNameSyncJob(personService, time.Duration(cfg.Business.NameSyncIntervalSeconds)*time.Second)
	go nameSyncJob.Start(ctx)

	creditSweepJob := job.NewCreditSweepJob(paymentService, time.Duration(cfg.Business.CreditSweepIntervalSeconds)*time.Second)
	go creditSweepJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
