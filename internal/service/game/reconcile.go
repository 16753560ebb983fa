package game

import (
	"context"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/fanout"
	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"go.uber.org/zap"
)

// ResultSink consumes the reconciliation payload after it has been folded
// into the experiment: the archive ledger and the payout hand-off queue.
// Sinks run off the critical section; their failures are logged, never
// propagated, and never roll reconciliation back.
type ResultSink interface {
	HandleReconciliation(ctx context.Context, exp *model.Experiment, sess *model.GameSession)
}

// reconcileLocked folds the terminal session back into the owning
// experiment: per-participant earnings in major units, aggregate results,
// completed status. Runs at most once per session.
func (s *Service) reconcileLocked(sess *model.GameSession) {
	if sess.Reconciled {
		return
	}

	exp := s.store.Experiment(sess.ExperimentID)
	if exp == nil {
		// Orphaned session: surfaced in the log, never retried.
		logger.Log.Error("cannot reconcile, experiment missing",
			zap.String("gameID", sess.ID),
			zap.String("experimentID", sess.ExperimentID),
		)
		return
	}
	sess.Reconciled = true

	state := sess.State
	endowment := model.ToMajorUnits(state.InitialEndowment)
	finalA := model.ToMajorUnits(state.PlayerABalance)
	finalB := model.ToMajorUnits(state.PlayerBBalance)

	for _, p := range exp.Participants {
		switch p.SessionID {
		case sess.PlayerASessionID:
			p.Earnings = finalA
			p.ExperimentRole = model.RolePlayerA.Label()
			p.Breakdown = &model.PayoutBreakdown{
				InitialBalance: endowment,
				FinalBalance:   finalA,
				AmountSent:     model.ToMajorUnits(state.PlayerASent),
				AmountReceived: model.ToMajorUnits(state.PlayerBReturned),
			}
		case sess.PlayerBSessionID:
			p.Earnings = finalB
			p.ExperimentRole = model.RolePlayerB.Label()
			p.Breakdown = &model.PayoutBreakdown{
				InitialBalance: endowment,
				FinalBalance:   finalB,
				AmountReceived: model.ToMajorUnits(state.PlayerBReceived),
				AmountReturned: model.ToMajorUnits(state.PlayerBReturned),
			}
		}
	}

	now := time.Now()
	exp.Status = model.ExperimentCompleted
	exp.CompletedAt = &now
	exp.GameResults = &model.GameResults{
		TotalSent:     model.ToMajorUnits(state.PlayerASent),
		TotalReceived: model.ToMajorUnits(state.PlayerBReceived),
		TotalReturned: model.ToMajorUnits(state.PlayerBReturned),
		FinalBalanceA: finalA,
		FinalBalanceB: finalB,
		TotalValue:    finalA + finalB,
		Efficiency:    float64((state.PlayerABalance+state.PlayerBBalance)*100) / float64(2*state.InitialEndowment),
	}

	logger.Log.Info("experiment reconciled",
		zap.String("experimentID", exp.ID),
		zap.Float64("finalBalanceA", finalA),
		zap.Float64("finalBalanceB", finalB),
		zap.Float64("efficiency", exp.GameResults.Efficiency),
	)

	expSnapshot := exp.Clone()
	sessSnapshot := sess.Clone()

	s.hub.Publish(fanout.ExperimentChannel(exp.ID), "experimentResultsUpdate", expSnapshot)

	// Hand-off to the archive and the external payment queue happens off
	// the critical section; the snapshots are theirs to keep.
	for _, sink := range s.sinks {
		sink := sink
		go sink.HandleReconciliation(context.Background(), expSnapshot, sessSnapshot)
	}
}
