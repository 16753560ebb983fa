package experiment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/fanout"
	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/internal/store"
	appErr "github.com/Kmccabe/bTree-sub000/pkg/errors"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	ReaperInterval  time.Duration
	PresenceTimeout time.Duration
	StartDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReaperInterval:  15 * time.Second,
		PresenceTimeout: 45 * time.Second,
		StartDelay:      2 * time.Second,
	}
}

// GameStarter builds the game session once the readiness gate opens.
// StartGame is invoked with the store lock held; the gameStarted latch is
// already set when it runs.
type GameStarter interface {
	StartGame(exp *model.Experiment) error
}

// ParticipantUpdate is the snapshot pushed on every lobby mutation.
type ParticipantUpdate struct {
	ExperimentID    string              `json:"experimentId"`
	Participants    []model.Participant `json:"participants"`
	ReadyCount      int                 `json:"readyCount"`
	MaxParticipants int                 `json:"maxParticipants"`
	AllReady        bool                `json:"allReady"`
}

type RoleAssignment struct {
	ParticipantID     string     `json:"participantId"`
	SessionID         string     `json:"sessionId"`
	ParticipantNumber int        `json:"participantNumber"`
	Role              model.Role `json:"role"`
}

// GameStarting announces role assignments when the readiness gate opens.
type GameStarting struct {
	GameID string           `json:"gameId"`
	Roles  []RoleAssignment `json:"roles"`
}

type Service struct {
	store   *store.Store
	hub     *fanout.Hub
	starter GameStarter
	cfg     Config

	startOnce sync.Once
}

func NewService(st *store.Store, hub *fanout.Hub, starter GameStarter, cfg Config) *Service {
	return &Service{
		store:   st,
		hub:     hub,
		starter: starter,
		cfg:     cfg,
	}
}

// Start launches the presence reaper. Safe to call once; subsequent calls
// are no-ops.
func (s *Service) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		go s.runReaper(ctx)
	})
	return nil
}

// Create allocates a new experiment record.
func (s *Service) Create(maxParticipants int, params model.GameParameters) (*model.Experiment, error) {
	if maxParticipants < 2 {
		return nil, fmt.Errorf("%w: maxParticipants must be at least 2", appErr.ErrInvalidParameters)
	}
	if params.InitialEndowment <= 0 {
		return nil, fmt.Errorf("%w: initialEndowment must be positive", appErr.ErrInvalidParameters)
	}
	if params.Multiplier < 1 {
		return nil, fmt.Errorf("%w: multiplier must be at least 1", appErr.ErrInvalidParameters)
	}
	if params.Rounds < 1 {
		params.Rounds = 1
	}

	exp := &model.Experiment{
		ID:              uuid.NewString(),
		MaxParticipants: maxParticipants,
		Parameters:      params,
		Status:          model.ExperimentActive,
		Participants:    []*model.Participant{},
		CreatedAt:       time.Now(),
	}

	s.store.Lock()
	s.store.PutExperiment(exp)
	snapshot := exp.Clone()
	s.store.Unlock()

	logger.Log.Info("experiment created",
		zap.String("experimentID", exp.ID),
		zap.Int("maxParticipants", maxParticipants),
	)
	return snapshot, nil
}

// Get returns a snapshot of the experiment.
func (s *Service) Get(id string) (*model.Experiment, error) {
	s.store.Lock()
	defer s.store.Unlock()

	exp := s.store.Experiment(id)
	if exp == nil {
		return nil, appErr.ErrExperimentNotFound
	}
	return exp.Clone(), nil
}

// List returns snapshots of every experiment, for the admin surface.
func (s *Service) List() []*model.Experiment {
	s.store.Lock()
	defer s.store.Unlock()

	experiments := s.store.Experiments()
	result := make([]*model.Experiment, 0, len(experiments))
	for _, exp := range experiments {
		result = append(result, exp.Clone())
	}
	return result
}

// Join admits a participant into the experiment lobby. A sessionId that is
// already present is a reconnect: lastSeenAt and walletAddress refresh, the
// record is otherwise returned unchanged (ready state survives reconnects).
func (s *Service) Join(experimentID, walletAddress, sessionID string) (*model.Participant, error) {
	s.store.Lock()
	defer s.store.Unlock()

	exp := s.store.Experiment(experimentID)
	if exp == nil {
		return nil, appErr.ErrExperimentNotFound
	}
	if exp.GameStarted {
		return nil, appErr.ErrGameAlreadyStarted
	}

	if existing := exp.FindBySession(sessionID); existing != nil {
		existing.LastSeenAt = time.Now()
		existing.WalletAddress = walletAddress
		logger.Log.Info("participant reconnected",
			zap.String("experimentID", experimentID),
			zap.String("sessionID", sessionID),
			zap.Int("participantNumber", existing.ParticipantNumber),
		)
		s.publishParticipantsLocked(exp)
		reconnected := *existing
		return &reconnected, nil
	}

	if len(exp.Participants) >= exp.MaxParticipants {
		return nil, appErr.ErrExperimentFull
	}

	participant := &model.Participant{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		WalletAddress:     walletAddress,
		ParticipantNumber: len(exp.Participants) + 1,
		IsReady:           false,
		LastSeenAt:        time.Now(),
	}
	exp.Participants = append(exp.Participants, participant)

	logger.Log.Info("participant joined",
		zap.String("experimentID", experimentID),
		zap.String("sessionID", sessionID),
		zap.Int("participantNumber", participant.ParticipantNumber),
	)

	s.publishParticipantsLocked(exp)

	joined := *participant
	return &joined, nil
}

// MarkReady flips the participant's ready flag and, when the whole group is
// ready, starts the game. This is the only transition that may start a game:
// the gameStarted latch is set before the builder runs, inside the same
// critical section as the readiness check.
func (s *Service) MarkReady(experimentID, sessionID string) {
	s.store.Lock()
	defer s.store.Unlock()

	exp := s.store.Experiment(experimentID)
	if exp == nil {
		logger.Log.Warn("ready signal for unknown experiment",
			zap.String("experimentID", experimentID),
			zap.String("sessionID", sessionID),
		)
		return
	}
	if exp.GameStarted {
		logger.Log.Warn("ready signal after game start ignored",
			zap.String("experimentID", experimentID),
			zap.String("sessionID", sessionID),
		)
		return
	}
	participant := exp.FindBySession(sessionID)
	if participant == nil {
		logger.Log.Warn("ready signal for unknown participant",
			zap.String("experimentID", experimentID),
			zap.String("sessionID", sessionID),
		)
		return
	}

	participant.IsReady = true
	participant.LastSeenAt = time.Now()

	s.publishParticipantsLocked(exp)

	if !exp.AllReady() {
		return
	}

	// Latch first: a second all-ready evaluation must never reach the
	// builder.
	exp.GameStarted = true

	if err := s.starter.StartGame(exp); err != nil {
		// Not rolled back; the experiment stays latched but has no
		// session. Scoped to this experiment id only.
		logger.Log.Error("failed to build game session",
			zap.String("experimentID", experimentID),
			zap.Error(err),
		)
		return
	}

	roles := make([]RoleAssignment, 0, len(exp.Participants))
	for _, p := range exp.Participants {
		roles = append(roles, RoleAssignment{
			ParticipantID:     p.ID,
			SessionID:         p.SessionID,
			ParticipantNumber: p.ParticipantNumber,
			Role:              p.Role(),
		})
	}
	starting := GameStarting{GameID: exp.ID, Roles: roles}
	channel := fanout.ExperimentChannel(exp.ID)

	logger.Log.Info("all participants ready, game starting",
		zap.String("experimentID", experimentID),
		zap.Int("participants", len(exp.Participants)),
	)

	// The delay is cosmetic, giving clients time to settle lobby UI. The
	// latch above is the correctness guard, not this timer.
	time.AfterFunc(s.cfg.StartDelay, func() {
		s.hub.Publish(channel, "gameStarting", starting)
	})
}

// Heartbeat refreshes liveness only. No broadcast, and unknown ids are
// ignored: a heartbeat may race the reaper.
func (s *Service) Heartbeat(experimentID, sessionID string) {
	s.store.Lock()
	defer s.store.Unlock()

	exp := s.store.Experiment(experimentID)
	if exp == nil {
		return
	}
	participant := exp.FindBySession(sessionID)
	if participant == nil {
		return
	}
	participant.LastSeenAt = time.Now()
}

// ParticipantSnapshot returns the current lobby snapshot, used when a client
// first subscribes to an experiment channel.
func (s *Service) ParticipantSnapshot(experimentID string) (*ParticipantUpdate, error) {
	s.store.Lock()
	defer s.store.Unlock()

	exp := s.store.Experiment(experimentID)
	if exp == nil {
		return nil, appErr.ErrExperimentNotFound
	}
	update := s.participantUpdateLocked(exp)
	return &update, nil
}

func (s *Service) publishParticipantsLocked(exp *model.Experiment) {
	s.hub.Publish(fanout.ExperimentChannel(exp.ID), "participantUpdate", s.participantUpdateLocked(exp))
}

func (s *Service) participantUpdateLocked(exp *model.Experiment) ParticipantUpdate {
	participants := make([]model.Participant, 0, len(exp.Participants))
	for _, p := range exp.Participants {
		participants = append(participants, *p)
	}
	return ParticipantUpdate{
		ExperimentID:    exp.ID,
		Participants:    participants,
		ReadyCount:      exp.ReadyCount(),
		MaxParticipants: exp.MaxParticipants,
		AllReady:        exp.AllReady(),
	}
}

func (s *Service) runReaper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepPresence()
		}
	}
}

// SweepPresence evicts lobby participants whose last liveness signal is
// older than the presence timeout. Games in progress are never touched.
func (s *Service) SweepPresence() {
	now := time.Now()

	s.store.Lock()
	defer s.store.Unlock()

	for _, exp := range s.store.Experiments() {
		if exp.GameStarted || exp.Status == model.ExperimentCompleted {
			continue
		}

		kept := exp.Participants[:0:0]
		removed := 0
		for _, p := range exp.Participants {
			if now.Sub(p.LastSeenAt) < s.cfg.PresenceTimeout {
				kept = append(kept, p)
			} else {
				removed++
				logger.Log.Info("reaping stale participant",
					zap.String("experimentID", exp.ID),
					zap.String("sessionID", p.SessionID),
					zap.Time("lastSeenAt", p.LastSeenAt),
				)
			}
		}
		if removed == 0 {
			continue
		}

		exp.Participants = kept
		s.publishParticipantsLocked(exp)
	}
}
