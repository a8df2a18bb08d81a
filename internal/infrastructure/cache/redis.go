package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"posledger/internal/config"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

// InitRedis 初始化 Redis 连接
// 未启用时返回 nil，分布式锁退化为不加锁（单实例部署）
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		log.Println("Redis 未启用，分布式锁关闭")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	RedisClient = client
	log.Println("Redis 连接成功")
	return client
}

// CloseRedis 关闭 Redis 连接
func CloseRedis() {
	if RedisClient != nil {
		RedisClient.Close()
	}
}
