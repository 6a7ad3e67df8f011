package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
)

// ProcessedEventPruner は処理済みイベント証跡を削除するインターフェース
type ProcessedEventPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ProcessedEventCleaner は保持期間を過ぎた冪等性証跡を定期削除するワーカー
// 正しさには関与しないハウスキーピングのため、失敗はログのみで次周期に任せる
type ProcessedEventCleaner struct {
	pruner    ProcessedEventPruner
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewProcessedEventCleaner は新しいクリーナーを作成する
func NewProcessedEventCleaner(p ProcessedEventPruner, interval, retention time.Duration) *ProcessedEventCleaner {
	return &ProcessedEventCleaner{
		pruner:    p,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start はクリーナーを開始する
func (c *ProcessedEventCleaner) Start(ctx context.Context) {
	logger.Info("処理済みイベントクリーナー開始",
		zap.Duration("interval", c.interval),
		zap.Duration("retention", c.retention),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("処理済みイベントクリーナー停止（コンテキストキャンセル）")
			return
		case <-c.stopCh:
			logger.Info("処理済みイベントクリーナー停止（シグナル受信）")
			return
		case <-ticker.C:
			c.prune(ctx)
		}
	}
}

// Stop はクリーナーを停止する
func (c *ProcessedEventCleaner) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *ProcessedEventCleaner) prune(ctx context.Context) {
	deleted, err := c.pruner.Prune(ctx, c.retention)
	if err != nil {
		logger.Error("処理済みイベントの削除に失敗", zap.Error(err))
		return
	}
	if deleted > 0 {
		logger.Info("処理済みイベントを削除", zap.Int64("deleted", deleted))
	}
}
