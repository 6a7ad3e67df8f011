package application

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
)

// NoopVoteRewarder は報酬付与サービス未接続時のVoteRewarder実装
// 報酬ルール（EXP定数・レベル計算）は報酬サービス側が所有するため、ここではログのみ残す
type NoopVoteRewarder struct{}

func NewNoopVoteRewarder() *NoopVoteRewarder {
	return &NoopVoteRewarder{}
}

func (r *NoopVoteRewarder) AwardVoteExp(ctx context.Context, userID uuid.UUID) error {
	logger.Debug("投票報酬の付与を委譲（未接続）", zap.String("user_id", userID.String()))
	return nil
}

var _ VoteRewarder = (*NoopVoteRewarder)(nil)
