package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/idempotency"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/metrics"
)

const serviceName = "gamification-service"

// IdempotencyService はRedis（高速）とデータベース（永続）の2段構えの冪等性ガード
//
// フロー:
//  1. Redisを確認 → ヒットならスキップ（高速パス）
//  2. ミスならデータベースを確認（永続・正）
//  3. データベースにあればRedisへバックフィルしてスキップ
//  4. どちらにもなければ未処理
//
// キャッシュは純粋なアクセラレータであり、Redis障害時は永続ストアのみで動作する
// 永続ストア障害は呼び出し元の操作ごと失敗させる（未知を「未処理」と扱わない）
type IdempotencyService struct {
	cache    idempotency.Cache
	repo     idempotency.Repository
	cacheTTL time.Duration
	metrics  *metrics.Metrics
}

// NewIdempotencyService は新しいIdempotencyServiceを作成する
func NewIdempotencyService(cache idempotency.Cache, repo idempotency.Repository, cacheTTL time.Duration, m *metrics.Metrics) *IdempotencyService {
	return &IdempotencyService{cache: cache, repo: repo, cacheTTL: cacheTTL, metrics: m}
}

// IsProcessed はイベントが処理済みかを返す
func (s *IdempotencyService) IsProcessed(ctx context.Context, key, eventType string) (bool, error) {
	if s.cache != nil {
		hit, err := s.cache.Exists(ctx, key)
		if err != nil {
			// キャッシュ障害は処理をブロックしない。永続ストアへフォールバック
			logger.Warn("冪等性キャッシュの確認に失敗、永続ストアへフォールバック",
				zap.String("key", key), zap.Error(err))
		} else if hit {
			logger.Debug("イベントは処理済み（キャッシュ）", zap.String("key", key))
			if s.metrics != nil {
				s.metrics.IdempotencyHitsTotal.WithLabelValues("cache").Inc()
			}
			return true, nil
		}
	}

	exists, err := s.repo.ExistsByKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("冪等性チェックに失敗 (key=%s): %w", key, err)
	}
	if exists {
		logger.Debug("イベントは処理済み（永続ストア）", zap.String("key", key), zap.String("event_type", eventType))
		if s.metrics != nil {
			s.metrics.IdempotencyHitsTotal.WithLabelValues("store").Inc()
		}
		// キャッシュ消失・再起動後の自己修復
		s.backfillCache(ctx, key)
		return true, nil
	}
	return false, nil
}

// MarkProcessed はイベントを処理済みとして記録する
// 永続ストアへの登録が正であり、キー重複は致命エラーではなくログのみとする
func (s *IdempotencyService) MarkProcessed(ctx context.Context, key, eventType string, eventData *string) error {
	record := &idempotency.ProcessedEvent{
		IdempotencyKey: key,
		EventType:      eventType,
		ServiceName:    serviceName,
		EventData:      eventData,
		ProcessedAt:    time.Now(),
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		if errors.Is(err, idempotency.ErrDuplicateKey) {
			// 同時重複配信の再登録。片方が既にキーを確保している
			logger.Warn("処理済みイベントは登録済み", zap.String("key", key))
		} else {
			return fmt.Errorf("処理済みイベントの記録に失敗 (key=%s): %w", key, err)
		}
	}
	s.backfillCache(ctx, key)
	return nil
}

// Prune は保持期間を過ぎた証跡を削除する（ハウスキーピング）
func (s *IdempotencyService) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	before := time.Now().Add(-olderThan)
	deleted, err := s.repo.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, err
	}
	logger.Info("古い処理済みイベントを削除", zap.Int64("deleted", deleted), zap.Time("before", before))
	return deleted, nil
}

func (s *IdempotencyService) backfillCache(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, s.cacheTTL); err != nil {
		logger.Warn("冪等性キャッシュの登録に失敗", zap.String("key", key), zap.Error(err))
	}
}
