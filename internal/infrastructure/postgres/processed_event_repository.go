package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/idempotency"
)

// ProcessedEventRepository は処理済みイベント証跡のsqlx実装
type ProcessedEventRepository struct{ db *sqlx.DB }

func NewProcessedEventRepository(db *sqlx.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

func (r *ProcessedEventRepository) ExistsByKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_events WHERE idempotency_key = $1)`
	if err := r.db.GetContext(ctx, &exists, query, key); err != nil {
		return false, fmt.Errorf("処理済みイベントの確認に失敗: %w", err)
	}
	return exists, nil
}

func (r *ProcessedEventRepository) Insert(ctx context.Context, e *idempotency.ProcessedEvent) error {
	query := `INSERT INTO processed_events (idempotency_key, event_type, service_name, event_data, processed_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, e.IdempotencyKey, e.EventType, e.ServiceName, e.EventData, e.ProcessedAt).Scan(&e.ID); err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return idempotency.ErrDuplicateKey
		}
		return fmt.Errorf("処理済みイベントの登録に失敗: %w", err)
	}
	return nil
}

func (r *ProcessedEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("処理済みイベントの削除に失敗: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("処理済みイベントの削除に失敗: %w", err)
	}
	return deleted, nil
}

var _ idempotency.Repository = (*ProcessedEventRepository)(nil)
