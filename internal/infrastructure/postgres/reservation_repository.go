package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/reservation"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/transaction"
)

type reservationRow struct {
	ID            int64           `db:"id"`
	ReservationID uuid.UUID       `db:"reservation_id"`
	UserID        uuid.UUID       `db:"user_id"`
	Amount        decimal.Decimal `db:"amount"`
	SagaID        string          `db:"saga_id"`
	Status        string          `db:"status"`
	ExpiresAt     time.Time       `db:"expires_at"`
	CreatedAt     time.Time       `db:"created_at"`
	ConfirmedAt   *time.Time      `db:"confirmed_at"`
	ReleasedAt    *time.Time      `db:"released_at"`
}

const reservationColumns = `reservation_id, user_id, amount, saga_id, status, expires_at, created_at, confirmed_at, released_at, id`

type ReservationRepository struct{ db *sqlx.DB }

func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Create(ctx context.Context, tx transaction.Tx, res *reservation.Reservation) error {
	sqlxTx := UnwrapTx(tx)
	status, err := reservation.EncodeStatus(res.Status)
	if err != nil {
		return err
	}
	query := `INSERT INTO yuan_reservations (reservation_id, user_id, amount, saga_id, status, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := sqlxTx.ExecContext(ctx, query, res.ReservationID, res.UserID, res.Amount, res.SagaID, status, res.ExpiresAt, res.CreatedAt); err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return reservation.ErrSagaIDAlreadyExists
		}
		return fmt.Errorf("予約作成に失敗: %w", err)
	}
	return nil
}

func (r *ReservationRepository) GetByReservationID(ctx context.Context, reservationID uuid.UUID) (*reservation.Reservation, error) {
	var row reservationRow
	query := `SELECT ` + reservationColumns + ` FROM yuan_reservations WHERE reservation_id = $1`
	if err := r.db.GetContext(ctx, &row, query, reservationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return toEntity(&row)
}

func (r *ReservationRepository) GetBySagaID(ctx context.Context, sagaID string) (*reservation.Reservation, error) {
	var row reservationRow
	query := `SELECT ` + reservationColumns + ` FROM yuan_reservations WHERE saga_id = $1`
	if err := r.db.GetContext(ctx, &row, query, sagaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return toEntity(&row)
}

func (r *ReservationRepository) SumReservedByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	sqlxTx := UnwrapTx(tx)
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM yuan_reservations WHERE user_id = $1 AND status = 'RESERVED'`
	if err := sqlxTx.GetContext(ctx, &sum, query, userID); err != nil {
		return decimal.Zero, fmt.Errorf("仮押さえ合計の取得に失敗: %w", err)
	}
	return sum, nil
}

func (r *ReservationRepository) Confirm(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, confirmedAt time.Time) (bool, error) {
	sqlxTx := UnwrapTx(tx)
	query := `UPDATE yuan_reservations SET status = 'CONFIRMED', confirmed_at = $2 WHERE reservation_id = $1 AND status = 'RESERVED'`
	result, err := sqlxTx.ExecContext(ctx, query, reservationID, confirmedAt)
	if err != nil {
		return false, fmt.Errorf("予約確定に失敗: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("予約確定に失敗: %w", err)
	}
	return rows == 1, nil
}

func (r *ReservationRepository) Release(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, releasedAt time.Time) (bool, error) {
	sqlxTx := UnwrapTx(tx)
	query := `UPDATE yuan_reservations SET status = 'RELEASED', released_at = $2 WHERE reservation_id = $1 AND status = 'RESERVED'`
	result, err := sqlxTx.ExecContext(ctx, query, reservationID, releasedAt)
	if err != nil {
		return false, fmt.Errorf("予約解放に失敗: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("予約解放に失敗: %w", err)
	}
	return rows == 1, nil
}

func (r *ReservationRepository) FindExpiredReserved(ctx context.Context, now time.Time) ([]*reservation.Reservation, error) {
	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM yuan_reservations WHERE status = 'RESERVED' AND expires_at < $1`
	if err := r.db.SelectContext(ctx, &rows, query, now); err != nil {
		return nil, fmt.Errorf("期限切れ予約の取得に失敗: %w", err)
	}
	result := make([]*reservation.Reservation, 0, len(rows))
	for i := range rows {
		res, err := toEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, nil
}

func toEntity(row *reservationRow) (*reservation.Reservation, error) {
	status, err := reservation.DecodeStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("予約 %s のステータス %q が不正: %w", row.ReservationID, row.Status, err)
	}
	return &reservation.Reservation{
		ReservationID: row.ReservationID,
		UserID:        row.UserID,
		Amount:        row.Amount,
		SagaID:        row.SagaID,
		Status:        status,
		ExpiresAt:     row.ExpiresAt,
		CreatedAt:     row.CreatedAt,
		ConfirmedAt:   row.ConfirmedAt,
		ReleasedAt:    row.ReleasedAt,
	}, nil
}

var _ reservation.Repository = (*ReservationRepository)(nil)
