package game

import (
	"fmt"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/fanout"
	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/internal/store"
	appErr "github.com/Kmccabe/bTree-sub000/pkg/errors"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"go.uber.org/zap"
)

type Config struct {
	// EnforceDecisionTimeout drives phases forward when the per-decision
	// countdown expires. When false, timeRemaining is advisory only.
	EnforceDecisionTimeout bool
}

type Service struct {
	store *store.Store
	hub   *fanout.Hub
	cfg   Config
	sinks []ResultSink

	// Decision timers, keyed by game id. Guarded by the store lock, same
	// as the sessions they watch.
	timers map[string]*time.Timer
}

func NewService(st *store.Store, hub *fanout.Hub, cfg Config, sinks ...ResultSink) *Service {
	return &Service{
		store:  st,
		hub:    hub,
		cfg:    cfg,
		sinks:  sinks,
		timers: make(map[string]*time.Timer),
	}
}

// StartGame builds the session for an experiment whose readiness gate just
// opened. The caller holds the store lock and has already set the
// gameStarted latch. Construction errors propagate: a failed build is fatal
// for that experiment and is not retried.
func (s *Service) StartGame(exp *model.Experiment) error {
	return s.startGameLocked(exp)
}

// CreateSession is the administrative override: it constructs a session
// directly, bypassing readiness gating. It still sets the gameStarted latch
// so the builder runs at most once per experiment.
func (s *Service) CreateSession(experimentID string) (*model.GameSession, error) {
	s.store.Lock()
	defer s.store.Unlock()

	exp := s.store.Experiment(experimentID)
	if exp == nil {
		return nil, appErr.ErrExperimentNotFound
	}
	if exp.GameStarted || s.store.Session(experimentID) != nil {
		return nil, appErr.ErrGameAlreadyStarted
	}

	exp.GameStarted = true
	if err := s.startGameLocked(exp); err != nil {
		return nil, err
	}
	return s.store.Session(experimentID).Clone(), nil
}

// Get returns a snapshot of the session.
func (s *Service) Get(id string) (*model.GameSession, error) {
	s.store.Lock()
	defer s.store.Unlock()

	sess := s.store.Session(id)
	if sess == nil {
		return nil, appErr.ErrGameNotFound
	}
	return sess.Clone(), nil
}

// SubmitDecision merges a participant-submitted partial state onto the
// session. Validation of amounts and role ownership is the caller's
// responsibility; the contract here is an atomic merge followed by a
// broadcast, with terminal phases handed to the reconciler.
func (s *Service) SubmitDecision(gameID, participantID string, update StateUpdate) (*model.GameState, error) {
	s.store.Lock()
	defer s.store.Unlock()

	sess := s.store.Session(gameID)
	if sess == nil {
		return nil, appErr.ErrGameNotFound
	}

	logger.Log.Debug("decision submitted",
		zap.String("gameID", gameID),
		zap.String("participantID", participantID),
	)

	return s.advanceLocked(sess, Event{Kind: EventDecision, Update: update})
}

// UpdateState is the request/response update path. It funnels through the
// same merge rule as SubmitDecision so both transport surfaces share one
// state-mutation contract.
func (s *Service) UpdateState(gameID string, update StateUpdate) (*model.GameState, error) {
	s.store.Lock()
	defer s.store.Unlock()

	sess := s.store.Session(gameID)
	if sess == nil {
		return nil, appErr.ErrGameNotFound
	}
	return s.advanceLocked(sess, Event{Kind: EventDecision, Update: update})
}

func (s *Service) startGameLocked(exp *model.Experiment) error {
	if s.store.Session(exp.ID) != nil {
		return appErr.ErrGameAlreadyStarted
	}

	var sessionA, sessionB string
	for _, p := range exp.Participants {
		switch p.Role() {
		case model.RolePlayerA:
			if sessionA == "" {
				sessionA = p.SessionID
			}
		case model.RolePlayerB:
			if sessionB == "" {
				sessionB = p.SessionID
			}
		}
	}
	if sessionA == "" || sessionB == "" {
		return fmt.Errorf("cannot assign roles: experiment %s needs one Player A and one Player B", exp.ID)
	}
	if len(exp.Participants) > 2 {
		logger.Log.Warn("more than two participants, only the first A/B pair plays",
			zap.String("experimentID", exp.ID),
			zap.Int("participants", len(exp.Participants)),
		)
	}

	params := exp.Parameters
	endowment := model.ToMinorUnits(params.InitialEndowment)
	rounds := params.Rounds
	if rounds < 1 {
		rounds = 1
	}

	sess := &model.GameSession{
		ID:               exp.ID,
		ExperimentID:     exp.ID,
		PlayerASessionID: sessionA,
		PlayerBSessionID: sessionB,
		State: model.GameState{
			Phase:            model.PhasePlayerADecision,
			CurrentRound:     1,
			TotalRounds:      rounds,
			InitialEndowment: endowment,
			Multiplier:       params.Multiplier,
			IncrementSize:    model.ToMinorUnits(params.IncrementSize),
			PlayerABalance:   endowment,
			PlayerBBalance:   endowment,
			TimeRemaining:    params.TimePerDecision,
			LastUpdatedAt:    time.Now(),
		},
		CreatedAt: time.Now(),
	}
	s.store.PutSession(sess)
	s.scheduleTimeoutLocked(sess)

	logger.Log.Info("game session created",
		zap.String("gameID", sess.ID),
		zap.Int64("initialEndowment", endowment),
		zap.Float64("multiplier", params.Multiplier),
	)
	return nil
}
