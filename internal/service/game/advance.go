package game

import (
	"fmt"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/fanout"
	"github.com/Kmccabe/bTree-sub000/internal/model"
	appErr "github.com/Kmccabe/bTree-sub000/pkg/errors"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"go.uber.org/zap"
)

// StateUpdate is a partial GameState merge. Nil fields are left untouched.
// BaseVersion, when supplied, must match the session's current version or
// the merge is rejected; without it the merge is last-write-wins.
type StateUpdate struct {
	Phase           *model.GamePhase `json:"phase"`
	CurrentRound    *int             `json:"currentRound"`
	PlayerASent     *int64           `json:"playerA_sent"`
	PlayerBReceived *int64           `json:"playerB_received"`
	PlayerBReturned *int64           `json:"playerB_returned"`
	PlayerABalance  *int64           `json:"playerA_balance"`
	PlayerBBalance  *int64           `json:"playerB_balance"`
	TimeRemaining   *int             `json:"timeRemaining"`
	BaseVersion     *int64           `json:"baseVersion"`
}

type EventKind int

const (
	// EventDecision carries a caller-supplied partial state.
	EventDecision EventKind = iota
	// EventTimeout is synthesized when the decision countdown expires; it
	// applies the phase's zero-action default.
	EventTimeout
)

// Event is the single transition trigger: a submitted decision and an
// expired clock are two variants of the same input.
type Event struct {
	Kind   EventKind
	Update StateUpdate
}

func (s *Service) advanceLocked(sess *model.GameSession, ev Event) (*model.GameState, error) {
	state := &sess.State

	update := ev.Update
	if ev.Kind == EventTimeout {
		synthesized, ok := timeoutUpdate(state)
		if !ok {
			return nil, nil
		}
		update = synthesized
	}

	if update.BaseVersion != nil && *update.BaseVersion != state.Version {
		logger.Log.Warn("rejecting stale game state merge",
			zap.String("gameID", sess.ID),
			zap.Int64("baseVersion", *update.BaseVersion),
			zap.Int64("currentVersion", state.Version),
		)
		return nil, fmt.Errorf("%w: base %d, current %d", appErr.ErrStaleVersion, *update.BaseVersion, state.Version)
	}

	wasTerminal := state.Phase.Terminal()
	previousPhase := state.Phase

	if update.Phase != nil {
		state.Phase = *update.Phase
	}
	if update.CurrentRound != nil {
		state.CurrentRound = *update.CurrentRound
	}
	if update.PlayerASent != nil {
		state.PlayerASent = *update.PlayerASent
	}
	if update.PlayerBReceived != nil {
		state.PlayerBReceived = *update.PlayerBReceived
	}
	if update.PlayerBReturned != nil {
		state.PlayerBReturned = *update.PlayerBReturned
	}
	if update.PlayerABalance != nil {
		state.PlayerABalance = *update.PlayerABalance
	}
	if update.PlayerBBalance != nil {
		state.PlayerBBalance = *update.PlayerBBalance
	}
	if update.TimeRemaining != nil {
		state.TimeRemaining = *update.TimeRemaining
	}
	state.Version++
	state.LastUpdatedAt = time.Now()

	nowTerminal := !wasTerminal && state.Phase.Terminal()
	switch {
	case nowTerminal:
		s.cancelTimeoutLocked(sess.ID)
	case state.Phase != previousPhase:
		s.resetTimeoutLocked(sess)
	}

	s.hub.Publish(fanout.GameChannel(sess.ID), "gameStateUpdate", *state)

	if nowTerminal {
		s.reconcileLocked(sess)
	}

	result := *state
	return &result, nil
}

// timeoutUpdate builds the zero-action default for the expiring phase.
func timeoutUpdate(state *model.GameState) (StateUpdate, bool) {
	zero := int64(0)
	none := 0
	switch state.Phase {
	case model.PhasePlayerADecision:
		next := model.PhasePlayerBDecision
		return StateUpdate{
			Phase:           &next,
			PlayerASent:     &zero,
			PlayerBReceived: &zero,
			TimeRemaining:   &none,
		}, true
	case model.PhasePlayerBDecision:
		next := model.PhaseRoundComplete
		return StateUpdate{
			Phase:           &next,
			PlayerBReturned: &zero,
			TimeRemaining:   &none,
		}, true
	default:
		return StateUpdate{}, false
	}
}

func (s *Service) scheduleTimeoutLocked(sess *model.GameSession) {
	if !s.cfg.EnforceDecisionTimeout {
		return
	}
	seconds := sess.State.TimeRemaining
	if seconds <= 0 {
		return
	}

	s.cancelTimeoutLocked(sess.ID)

	gameID := sess.ID
	phase := sess.State.Phase
	round := sess.State.CurrentRound
	s.timers[gameID] = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		s.onDecisionTimeout(gameID, phase, round)
	})
}

func (s *Service) resetTimeoutLocked(sess *model.GameSession) {
	if !s.cfg.EnforceDecisionTimeout {
		return
	}

	// A fresh phase gets the full countdown again unless the merge set one.
	if sess.State.TimeRemaining <= 0 {
		if exp := s.store.Experiment(sess.ExperimentID); exp != nil {
			sess.State.TimeRemaining = exp.Parameters.TimePerDecision
		}
	}
	s.scheduleTimeoutLocked(sess)
}

func (s *Service) cancelTimeoutLocked(gameID string) {
	if timer, ok := s.timers[gameID]; ok {
		timer.Stop()
		delete(s.timers, gameID)
	}
}

func (s *Service) onDecisionTimeout(gameID string, phase model.GamePhase, round int) {
	s.store.Lock()
	defer s.store.Unlock()

	sess := s.store.Session(gameID)
	if sess == nil {
		return
	}
	// A decision that already moved the game into another phase or round
	// makes this expiry stale. Version is deliberately not checked:
	// cosmetic merges (countdown syncs) bump it without consuming the
	// decision window.
	if sess.State.Phase != phase || sess.State.CurrentRound != round || sess.State.Phase.Terminal() {
		return
	}
	delete(s.timers, gameID)

	logger.Log.Warn("decision timeout, applying zero-action default",
		zap.String("gameID", gameID),
		zap.String("phase", string(sess.State.Phase)),
		zap.Int("round", sess.State.CurrentRound),
	)

	if _, err := s.advanceLocked(sess, Event{Kind: EventTimeout}); err != nil {
		logger.Log.Error("timeout advance failed",
			zap.String("gameID", gameID),
			zap.Error(err),
		)
	}
}
