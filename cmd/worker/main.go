package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/api/handler"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/api/middleware"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/application"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/config"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/idempotency"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/saga"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/infrastructure/postgres"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/infrastructure/rabbitmq"
	redisinfra "github.com/phutruonnttn/yushan-microservices-gamification-service/internal/infrastructure/redis"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/metrics"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/worker"
)

func main() {
	cfg := config.Load()

	env := os.Getenv("APP_ENV")
	log := logger.NewLogger(env)
	logger.Set(log)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("データベース接続に失敗", zap.Error(err))
	}
	defer db.Close()

	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		if err := postgres.RunMigrations(db.DB, path); err != nil {
			logger.Fatal("マイグレーションに失敗", zap.Error(err))
		}
	}

	// Redis（冪等性キャッシュ）。接続不可でも永続ストアのみで継続する
	var cache idempotency.Cache
	redisClient := redisinfra.NewClient(&cfg.Redis)
	if err := redisinfra.Ping(ctx, redisClient); err != nil {
		logger.Warn("Redis接続に失敗、冪等性チェックは永続ストアのみで動作します", zap.Error(err))
	} else {
		cache = redisinfra.NewIdempotencyCache(redisClient)
	}
	defer redisClient.Close()

	// RabbitMQ
	conn, err := rabbitmq.NewConnection(&cfg.RabbitMQ)
	if err != nil {
		logger.Fatal("RabbitMQ接続に失敗", zap.Error(err))
	}
	defer conn.Close()

	m := metrics.New()

	publisher, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQ.Exchange, m)
	if err != nil {
		logger.Fatal("パブリッシャー作成に失敗", zap.Error(err))
	}
	defer publisher.Close()

	// リポジトリとサービス
	txManager := postgres.NewTxManager(db)
	reservationRepo := postgres.NewReservationRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	processedEventRepo := postgres.NewProcessedEventRepository(db)

	reservationService := application.NewReservationService(
		txManager, reservationRepo, ledgerRepo,
		postgres.LockUserBalance,
		cfg.Saga.ReservationTimeout, m,
	)
	guard := application.NewIdempotencyService(cache, processedEventRepo, cfg.Saga.IdempotencyCacheTTL, m)

	voteCost, err := decimal.NewFromString(cfg.Saga.VoteCost)
	if err != nil {
		logger.Fatal("投票コストの設定が不正", zap.String("vote_cost", cfg.Saga.VoteCost), zap.Error(err))
	}

	coordinator := application.NewSagaCoordinator(
		reservationService, guard, publisher,
		application.NewNoopVoteRewarder(),
		voteCost, cfg.Saga.Enabled, m,
	)

	// コンシューマー
	consumer := rabbitmq.NewConsumer(conn, cfg.RabbitMQ.Exchange, "gamification-service")
	consumer.Subscribe(saga.TopicStart, coordinator.HandleStart)
	consumer.Subscribe(saga.TopicVoteCreated, coordinator.HandleVoteCreated)
	consumer.Subscribe(saga.TopicCompensate, coordinator.HandleCompensate)
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("コンシューマー開始に失敗", zap.Error(err))
	}

	// バックグラウンドワーカー
	reaper := worker.NewExpiredReservationReaper(reservationService, cfg.Saga.SweepInterval)
	go reaper.Start(ctx)

	pruner := worker.NewProcessedEventCleaner(guard, cfg.Saga.PruneInterval, cfg.Saga.IdempotencyRetention)
	go pruner.Start(ctx)

	// 運用エンドポイント（ヘルスチェック・メトリクス）
	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.PrometheusMiddleware(m))

	healthHandler := handler.NewHealthHandler()
	e.GET("/api/v1/health", healthHandler.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	logger.Info("gamification-service起動完了",
		zap.String("port", cfg.Server.Port),
		zap.Bool("saga_enabled", cfg.Saga.Enabled),
	)

	// シグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("シャットダウンしています...")
	cancel()
	consumer.Stop()
	reaper.Stop()
	pruner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("サーバーシャットダウンエラー", zap.Error(err))
	}

	logger.Info("正常にシャットダウンしました")
}
