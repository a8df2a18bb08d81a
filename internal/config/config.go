package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release / test
}

// DatabaseConfig 存储配置
// driver 支持 mysql（默认）、postgres、sqlite（单机门店模式，path 为库文件路径）
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
	Required      bool   `mapstructure:"required"` // 为 true 时写接口必须携带有效 token
}

type BusinessConfig struct {
	MaxRetryCount              int    `mapstructure:"max_retry_count"`
	Currency                   string `mapstructure:"currency"`
	LockTimeoutSeconds         int    `mapstructure:"lock_timeout_seconds"`
	NameSyncIntervalSeconds    int    `mapstructure:"name_sync_interval_seconds"`    // 0 表示不启动
	CreditSweepIntervalSeconds int    `mapstructure:"credit_sweep_interval_seconds"` // 0 表示不启动
	OutboxBatchSize            int    `mapstructure:"outbox_batch_size"`
}

// LockTimeout 分布式锁过期时间
func (b BusinessConfig) LockTimeout() time.Duration {
	return time.Duration(b.LockTimeoutSeconds) * time.Second
}

// TokenTTL token 有效期
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "data/posledger.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("kafka.topic.ledger_events", "posledger.ledger_events")
	v.SetDefault("auth.token_ttl_hours", 24)
	v.SetDefault("business.max_retry_count", 3)
	v.SetDefault("business.currency", "LD")
	v.SetDefault("business.lock_timeout_seconds", 30)
	v.SetDefault("business.outbox_batch_size", 100)
}

// Default 返回只包含默认值的配置（测试与单机模式使用）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		log.Fatalf("解析默认配置失败: %v", err)
	}
	return config
}

// LoadConfig 加载配置文件
// 优先级：环境变量（POSLEDGER_ 前缀，可来自 .env）> 配置文件 > 默认值
func LoadConfig(configPath string) *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用系统环境变量")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("POSLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
