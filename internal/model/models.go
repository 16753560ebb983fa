package model

import (
	"time"
)

// MinorUnitsPerUnit is the integer subunit scale used inside GameState.
// Balances and transfers are tracked in minor units to keep arithmetic exact;
// earnings and results cross back into float major units at reconciliation.
const MinorUnitsPerUnit int64 = 1_000_000

// ToMinorUnits converts a major-unit amount to minor units.
func ToMinorUnits(amount float64) int64 {
	return int64(amount*float64(MinorUnitsPerUnit) + 0.5)
}

// ToMajorUnits converts minor units back to a float major-unit amount.
func ToMajorUnits(amount int64) float64 {
	return float64(amount) / float64(MinorUnitsPerUnit)
}

// 1. Experiment & participants

type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentCompleted ExperimentStatus = "completed"
)

type GameParameters struct {
	InitialEndowment float64 `json:"initialEndowment"`
	Multiplier       float64 `json:"multiplier"`
	Rounds           int     `json:"rounds"`
	IncrementSize    float64 `json:"incrementSize"`
	TimePerDecision  int     `json:"timePerDecision"` // seconds
	Anonymity        bool    `json:"anonymity"`
	RoleAssignment   string  `json:"roleAssignment"`
}

type Role string

const (
	RolePlayerA Role = "playerA" // Trustor
	RolePlayerB Role = "playerB" // Trustee
)

// Label is the human-readable role written into participants at
// reconciliation time.
func (r Role) Label() string {
	if r == RolePlayerA {
		return "Player A (Trustor)"
	}
	return "Player B (Trustee)"
}

type Participant struct {
	ID                string           `json:"id"`
	SessionID         string           `json:"sessionId"`
	WalletAddress     string           `json:"walletAddress"`
	ParticipantNumber int              `json:"participantNumber"`
	IsReady           bool             `json:"isReady"`
	LastSeenAt        time.Time        `json:"lastSeenAt"`
	Earnings          float64          `json:"earnings"`
	ExperimentRole    string           `json:"experimentRole,omitempty"`
	Breakdown         *PayoutBreakdown `json:"breakdown,omitempty"`
}

// Role derives the participant's game role from join order: odd participant
// numbers are Player A, even numbers Player B. Never stored.
func (p *Participant) Role() Role {
	if p.ParticipantNumber%2 == 1 {
		return RolePlayerA
	}
	return RolePlayerB
}

// PayoutBreakdown is the per-role earnings breakdown recorded at
// reconciliation, in major units.
type PayoutBreakdown struct {
	InitialBalance float64 `json:"initialBalance"`
	FinalBalance   float64 `json:"finalBalance"`
	AmountSent     float64 `json:"amountSent,omitempty"`
	AmountReceived float64 `json:"amountReceived,omitempty"`
	AmountReturned float64 `json:"amountReturned,omitempty"`
}

type Experiment struct {
	ID              string           `json:"id"`
	MaxParticipants int              `json:"maxParticipants"`
	Parameters      GameParameters   `json:"gameParameters"`
	Status          ExperimentStatus `json:"status"`
	GameStarted     bool             `json:"gameStarted"`
	Participants    []*Participant   `json:"participants"`
	GameResults     *GameResults     `json:"gameResults,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

// FindBySession returns the participant keyed by browser-tab session id, or
// nil. Session id, not wallet address, is the identity key: one wallet may
// back several concurrent participants.
func (e *Experiment) FindBySession(sessionID string) *Participant {
	for _, p := range e.Participants {
		if p.SessionID == sessionID {
			return p
		}
	}
	return nil
}

func (e *Experiment) ReadyCount() int {
	count := 0
	for _, p := range e.Participants {
		if p.IsReady {
			count++
		}
	}
	return count
}

// AllReady is the readiness gate: at capacity and every participant ready.
func (e *Experiment) AllReady() bool {
	if len(e.Participants) != e.MaxParticipants {
		return false
	}
	for _, p := range e.Participants {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// 2. Game session

type GamePhase string

const (
	PhasePlayerADecision GamePhase = "playerA_decision"
	PhasePlayerBDecision GamePhase = "playerB_decision"
	PhaseRoundComplete   GamePhase = "round_complete"
	PhaseGameComplete    GamePhase = "game_complete"
)

// Terminal reports whether the phase ends the exchange and hands the session
// to the reconciler.
func (p GamePhase) Terminal() bool {
	return p == PhaseRoundComplete || p == PhaseGameComplete
}

// GameState holds all monetary fields in minor units.
type GameState struct {
	Phase            GamePhase `json:"phase"`
	CurrentRound     int       `json:"currentRound"`
	TotalRounds      int       `json:"totalRounds"`
	InitialEndowment int64     `json:"initialEndowment"`
	Multiplier       float64   `json:"multiplier"`
	IncrementSize    int64     `json:"incrementSize"`
	PlayerASent      int64     `json:"playerA_sent"`
	PlayerBReceived  int64     `json:"playerB_received"`
	PlayerBReturned  int64     `json:"playerB_returned"`
	PlayerABalance   int64     `json:"playerA_balance"`
	PlayerBBalance   int64     `json:"playerB_balance"`
	TimeRemaining    int       `json:"timeRemaining"`
	Version          int64     `json:"version"`
	LastUpdatedAt    time.Time `json:"lastUpdatedAt"`
}

// GameSession shares its id with the owning experiment.
type GameSession struct {
	ID               string    `json:"id"`
	ExperimentID     string    `json:"experimentId"`
	PlayerASessionID string    `json:"playerA_sessionId"`
	PlayerBSessionID string    `json:"playerB_sessionId"`
	State            GameState `json:"gameState"`
	Reconciled       bool      `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
}

// GameResults aggregates a completed exchange in major units.
type GameResults struct {
	TotalSent     float64 `json:"totalSent"`
	TotalReceived float64 `json:"totalReceived"`
	TotalReturned float64 `json:"totalReturned"`
	FinalBalanceA float64 `json:"finalBalanceA"`
	FinalBalanceB float64 `json:"finalBalanceB"`
	TotalValue    float64 `json:"totalValue"`
	Efficiency    float64 `json:"efficiency"` // percent of 2x endowment
}

// 3. Archive ledger (gorm)

// ExperimentRecord is the durable row written once per completed experiment.
type ExperimentRecord struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	ExperimentID     string `gorm:"uniqueIndex;size:64;not null"`
	MaxParticipants  int
	Rounds           int
	InitialEndowment float64
	Multiplier       float64
	TotalValue       float64
	Efficiency       float64
	CompletedAt      time.Time
	CreatedAt        time.Time
}

// PayoutRecord mirrors the reconciliation hand-off payload consumed by the
// external payment component.
type PayoutRecord struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	ExperimentID  string `gorm:"index;size:64;not null"`
	ParticipantID string `gorm:"size:64;not null"`
	SessionID     string `gorm:"size:128"`
	WalletAddress string `gorm:"size:128"`
	Role          string `gorm:"size:32"`
	Earnings      float64
	Status        string `gorm:"default:pending;not null"` // pending/submitted/failed
	CreatedAt     time.Time
}

// Clone deep-copies the experiment so snapshots can leave the store's
// critical section safely.
func (e *Experiment) Clone() *Experiment {
	out := *e
	out.Participants = make([]*Participant, len(e.Participants))
	for i, p := range e.Participants {
		pc := *p
		if p.Breakdown != nil {
			bc := *p.Breakdown
			pc.Breakdown = &bc
		}
		out.Participants[i] = &pc
	}
	if e.GameResults != nil {
		rc := *e.GameResults
		out.GameResults = &rc
	}
	if e.CompletedAt != nil {
		tc := *e.CompletedAt
		out.CompletedAt = &tc
	}
	return &out
}

// Clone copies the session; GameState is a value so the copy is complete.
func (g *GameSession) Clone() *GameSession {
	out := *g
	return &out
}
