package archive

import (
	"context"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service writes the durable results ledger: one experiment row and one
// payout row per participant, at reconciliation time. A nil db disables it.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Enabled() bool {
	return s != nil && s.db != nil
}

// HandleReconciliation persists the reconciliation payload. Failures are
// logged and swallowed: the in-memory reconciliation already happened and
// must not be rolled back.
func (s *Service) HandleReconciliation(ctx context.Context, exp *model.Experiment, sess *model.GameSession) {
	if !s.Enabled() {
		return
	}

	completedAt := time.Now()
	if exp.CompletedAt != nil {
		completedAt = *exp.CompletedAt
	}

	record := model.ExperimentRecord{
		ExperimentID:     exp.ID,
		MaxParticipants:  exp.MaxParticipants,
		Rounds:           exp.Parameters.Rounds,
		InitialEndowment: exp.Parameters.InitialEndowment,
		Multiplier:       exp.Parameters.Multiplier,
		CompletedAt:      completedAt,
		CreatedAt:        time.Now(),
	}
	if exp.GameResults != nil {
		record.TotalValue = exp.GameResults.TotalValue
		record.Efficiency = exp.GameResults.Efficiency
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		logger.Log.Error("failed to archive experiment record",
			zap.String("experimentID", exp.ID),
			zap.Error(err),
		)
		return
	}

	payouts := make([]model.PayoutRecord, 0, len(exp.Participants))
	for _, p := range exp.Participants {
		payouts = append(payouts, model.PayoutRecord{
			ExperimentID:  exp.ID,
			ParticipantID: p.ID,
			SessionID:     p.SessionID,
			WalletAddress: p.WalletAddress,
			Role:          string(p.Role()),
			Earnings:      p.Earnings,
			Status:        "pending",
			CreatedAt:     time.Now(),
		})
	}
	if len(payouts) == 0 {
		return
	}
	if err := s.db.WithContext(ctx).Create(&payouts).Error; err != nil {
		logger.Log.Error("failed to archive payout records",
			zap.String("experimentID", exp.ID),
			zap.Error(err),
		)
		return
	}

	logger.Log.Info("experiment archived",
		zap.String("experimentID", exp.ID),
		zap.Int("payouts", len(payouts)),
	)
}
