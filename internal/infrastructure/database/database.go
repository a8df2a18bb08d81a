package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"posledger/internal/config"
	"posledger/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Models 需要自动迁移的表
func Models() []interface{} {
	return []interface{}{
		&model.Person{},
		&model.Product{},
		&model.ProductBarcode{},
		&model.Transaction{},
		&model.TransactionItem{},
		&model.Payment{},
		&model.PaymentAllocation{},
		&model.Purchase{},
		&model.PurchaseItem{},
		&model.AuditLog{},
		&model.OutboxMessage{},
	}
}

// Dialector 根据配置选择数据库驱动
func Dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Database,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据目录失败: %w", err)
			}
		}
		return sqlite.Open(cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
}

// LogLevel 解析 gorm 日志级别
func LogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Open 打开数据库连接并迁移表结构
func Open(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("自动迁移表结构失败: %w", err)
	}
	if err := backfillNameKeys(db); err != nil {
		return nil, fmt.Errorf("补全姓名索引失败: %w", err)
	}
	return db, nil
}

// backfillNameKeys 为新增 name_key 列之前写入的人员补全折叠姓名
func backfillNameKeys(db *gorm.DB) error {
	var people []model.Person
	if err := db.Select("id", "name").Where("name_key = '' AND name <> ''").Find(&people).Error; err != nil {
		return err
	}
	for _, p := range people {
		err := db.Model(&model.Person{}).Where("id = ?", p.ID).
			UpdateColumn("name_key", model.FoldName(p.Name)).Error
		if err != nil {
			return err
		}
	}
	if len(people) > 0 {
		log.Printf("[Database] 已补全 %d 个人员的姓名索引", len(people))
	}
	return nil
}

// InitDatabase 初始化数据库连接
func InitDatabase(cfg *config.DatabaseConfig) *gorm.DB {
	dialector, err := Dialector(cfg)
	if err != nil {
		log.Fatalf("初始化数据库驱动失败: %v", err)
	}

	db, err := Open(dialector, LogLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置，sqlite 只允许单连接写入
	if strings.EqualFold(cfg.Driver, "sqlite") {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	log.Printf("数据库连接成功 (driver=%s)", cfg.Driver)
	return db
}
