package payout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueKey is the Redis list the external payment component consumes.
const QueueKey = "payouts:pending"

// Service pushes the reconciliation payload onto the payout queue. The
// coordinator's contract ends there; submitting blockchain payments and
// reporting their success is the payment component's job. A nil client
// disables the hand-off.
type Service struct {
	rdb *redis.Client
}

func NewService(rdb *redis.Client) *Service {
	return &Service{rdb: rdb}
}

type handoff struct {
	ExperimentID string       `json:"experimentId"`
	CompletedAt  time.Time    `json:"completedAt"`
	Payouts      []payoutItem `json:"payouts"`
}

type payoutItem struct {
	ParticipantID string  `json:"participantId"`
	SessionID     string  `json:"sessionId"`
	WalletAddress string  `json:"walletAddress"`
	Role          string  `json:"role"`
	Earnings      float64 `json:"earnings"`
}

// HandleReconciliation enqueues the payout payload. Failures are logged
// only; reconciliation is never rolled back for a queue error.
func (s *Service) HandleReconciliation(ctx context.Context, exp *model.Experiment, sess *model.GameSession) {
	if s == nil || s.rdb == nil {
		return
	}

	completedAt := time.Now()
	if exp.CompletedAt != nil {
		completedAt = *exp.CompletedAt
	}

	payload := handoff{
		ExperimentID: exp.ID,
		CompletedAt:  completedAt,
		Payouts:      make([]payoutItem, 0, len(exp.Participants)),
	}
	for _, p := range exp.Participants {
		payload.Payouts = append(payload.Payouts, payoutItem{
			ParticipantID: p.ID,
			SessionID:     p.SessionID,
			WalletAddress: p.WalletAddress,
			Role:          string(p.Role()),
			Earnings:      p.Earnings,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Error("failed to marshal payout hand-off",
			zap.String("experimentID", exp.ID),
			zap.Error(err),
		)
		return
	}

	if err := s.rdb.RPush(ctx, QueueKey, data).Err(); err != nil {
		logger.Log.Error("failed to enqueue payout hand-off",
			zap.String("experimentID", exp.ID),
			zap.Error(err),
		)
		return
	}

	logger.Log.Info("payout hand-off enqueued",
		zap.String("experimentID", exp.ID),
		zap.Int("payouts", len(payload.Payouts)),
	)
}
