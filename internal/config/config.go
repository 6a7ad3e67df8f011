package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Saga     SagaConfig
}

// ServerConfig は運用エンドポイント（ヘルスチェック・メトリクス）のサーバー設定
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig はデータベース設定
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig はRedis設定
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RabbitMQConfig はRabbitMQ設定
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
	Exchange string
}

// SagaConfig はVote SAGAの設定
type SagaConfig struct {
	// Enabled はSAGA機能の有効フラグ
	Enabled bool
	// ReservationTimeout はYuan仮押さえの有効期間
	ReservationTimeout time.Duration
	// SweepInterval は期限切れ予約の回収周期
	SweepInterval time.Duration
	// IdempotencyCacheTTL は冪等性キャッシュの保持期間
	IdempotencyCacheTTL time.Duration
	// IdempotencyRetention は処理済みイベント証跡の保持期間
	IdempotencyRetention time.Duration
	// PruneInterval は証跡削除ジョブの実行周期
	PruneInterval time.Duration
	// VoteCost は1票あたりのYuanコスト（報酬ルールサービスが所有する定数）
	VoteCost string
}

// Load は環境変数から設定を読み込む
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "gamification"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "vote-saga"),
		},
		Saga: SagaConfig{
			Enabled:              getBoolEnv("SAGA_ENABLED", true),
			ReservationTimeout:   getDurationEnv("SAGA_RESERVATION_TIMEOUT", 5*time.Minute),
			SweepInterval:        getDurationEnv("SAGA_SWEEP_INTERVAL", 5*time.Minute),
			IdempotencyCacheTTL:  getDurationEnv("IDEMPOTENCY_CACHE_TTL", 7*24*time.Hour),
			IdempotencyRetention: getDurationEnv("IDEMPOTENCY_RETENTION", 30*24*time.Hour),
			PruneInterval:        getDurationEnv("IDEMPOTENCY_PRUNE_INTERVAL", 24*time.Hour),
			VoteCost:             getEnv("SAGA_VOTE_COST", "1.0"),
		},
	}
}

// DSN はPostgreSQL接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// Addr はRedis接続アドレスを返す
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// URL はRabbitMQ接続URLを返す
func (c *RabbitMQConfig) URL() string {
	return "amqp://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + c.VHost
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
