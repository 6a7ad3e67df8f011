package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
)

// ExpiredReservationSweeper は期限切れ予約を解放するインターフェース
type ExpiredReservationSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpiredReservationReaper は期限切れのYuan仮押さえを定期回収するワーカー
// ステップハンドラーとは独立したスケジュールで動き、解放は冪等なため
// 遅延したConfirmと競合しても片方が条件付きUPDATEに敗れるだけで安全
type ExpiredReservationReaper struct {
	reservationService ExpiredReservationSweeper
	interval           time.Duration
	stopCh             chan struct{}
	doneCh             chan struct{}
}

// NewExpiredReservationReaper は新しいリーパーを作成する
func NewExpiredReservationReaper(rs ExpiredReservationSweeper, interval time.Duration) *ExpiredReservationReaper {
	return &ExpiredReservationReaper{
		reservationService: rs,
		interval:           interval,
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
}

// Start はリーパーを開始する
func (r *ExpiredReservationReaper) Start(ctx context.Context) {
	logger.Info("期限切れ予約リーパー開始", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("期限切れ予約リーパー停止（コンテキストキャンセル）")
			return
		case <-r.stopCh:
			logger.Info("期限切れ予約リーパー停止（シグナル受信）")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Stop はリーパーを停止する
func (r *ExpiredReservationReaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// sweep は期限切れ予約を解放する
func (r *ExpiredReservationReaper) sweep(ctx context.Context) {
	log := logger.Get()
	log.Debug("期限切れ予約の回収開始")

	count, err := r.reservationService.SweepExpired(ctx)
	if err != nil {
		log.Error("期限切れ予約の回収に失敗", zap.Error(err))
		return
	}

	if count > 0 {
		log.Info("期限切れ予約を解放", zap.Int("count", count))
	} else {
		log.Debug("期限切れ予約なし")
	}
}
