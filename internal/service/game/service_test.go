package game_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kmccabe/bTree-sub000/internal/fanout"
	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/internal/service/experiment"
	"github.com/Kmccabe/bTree-sub000/internal/service/game"
	"github.com/Kmccabe/bTree-sub000/internal/store"
	appErr "github.com/Kmccabe/bTree-sub000/pkg/errors"
)

// recordingSink captures reconciliation hand-offs.
type recordingSink struct {
	mu    sync.Mutex
	calls []*model.Experiment
}

func (r *recordingSink) HandleReconciliation(ctx context.Context, exp *model.Experiment, sess *model.GameSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, exp)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	store      *store.Store
	hub        *fanout.Hub
	experiment *experiment.Service
	game       *game.Service
	sink       *recordingSink
	exp        *model.Experiment
}

func params() model.GameParameters {
	return model.GameParameters{
		InitialEndowment: 1,
		Multiplier:       2,
		Rounds:           1,
		IncrementSize:    0.1,
		TimePerDecision:  30,
		RoleAssignment:   "sequential",
	}
}

// newFixture builds a two-participant experiment. When ready is true both
// participants signal ready so the session exists afterwards.
func newFixture(t *testing.T, gameCfg game.Config, ready bool) *fixture {
	t.Helper()

	st := store.New()
	hub := fanout.NewHub()
	sink := &recordingSink{}
	gameService := game.NewService(st, hub, gameCfg, sink)
	expService := experiment.NewService(st, hub, gameService, experiment.Config{
		ReaperInterval:  time.Hour,
		PresenceTimeout: time.Hour,
		StartDelay:      0,
	})

	exp, err := expService.Create(2, params())
	if err != nil {
		t.Fatalf("create experiment failed: %v", err)
	}
	if _, err := expService.Join(exp.ID, "wallet-a", "session-a"); err != nil {
		t.Fatalf("join A failed: %v", err)
	}
	if _, err := expService.Join(exp.ID, "wallet-b", "session-b"); err != nil {
		t.Fatalf("join B failed: %v", err)
	}
	if ready {
		expService.MarkReady(exp.ID, "session-a")
		expService.MarkReady(exp.ID, "session-b")
	}

	return &fixture{store: st, hub: hub, experiment: expService, game: gameService, sink: sink, exp: exp}
}

func i64(v int64) *int64 { return &v }

func phase(p model.GamePhase) *model.GamePhase { return &p }

func TestBuilderInitialState(t *testing.T) {
	f := newFixture(t, game.Config{}, true)

	sess, err := f.game.Get(f.exp.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	st := sess.State
	if st.Phase != model.PhasePlayerADecision {
		t.Fatalf("expected playerA_decision, got %s", st.Phase)
	}
	if st.PlayerABalance != 1_000_000 || st.PlayerBBalance != 1_000_000 {
		t.Fatalf("unexpected initial balances: %d/%d", st.PlayerABalance, st.PlayerBBalance)
	}
	if st.CurrentRound != 1 || st.TotalRounds != 1 {
		t.Fatalf("unexpected rounds: %d/%d", st.CurrentRound, st.TotalRounds)
	}
	if sess.PlayerASessionID != "session-a" || sess.PlayerBSessionID != "session-b" {
		t.Fatalf("role mapping wrong: A=%s B=%s", sess.PlayerASessionID, sess.PlayerBSessionID)
	}
}

func TestTrustExchangeScenario(t *testing.T) {
	f := newFixture(t, game.Config{}, true)
	gameID := f.exp.ID

	// Player A sends 0.3: B receives 0.6 after the x2 multiplier.
	st, err := f.game.SubmitDecision(gameID, "participant-a", game.StateUpdate{
		PlayerASent:     i64(300_000),
		PlayerBReceived: i64(600_000),
		PlayerABalance:  i64(700_000),
		PlayerBBalance:  i64(1_600_000),
		Phase:           phase(model.PhasePlayerBDecision),
	})
	if err != nil {
		t.Fatalf("player A decision failed: %v", err)
	}
	if st.Phase != model.PhasePlayerBDecision {
		t.Fatalf("expected playerB_decision, got %s", st.Phase)
	}
	if st.PlayerABalance != 700_000 || st.PlayerBBalance != 1_600_000 {
		t.Fatalf("unexpected balances after send: %d/%d", st.PlayerABalance, st.PlayerBBalance)
	}

	// Player B returns 0.4.
	st, err = f.game.SubmitDecision(gameID, "participant-b", game.StateUpdate{
		PlayerBReturned: i64(400_000),
		PlayerABalance:  i64(1_100_000),
		PlayerBBalance:  i64(1_200_000),
		Phase:           phase(model.PhaseRoundComplete),
	})
	if err != nil {
		t.Fatalf("player B decision failed: %v", err)
	}
	if st.Phase != model.PhaseRoundComplete {
		t.Fatalf("expected round_complete, got %s", st.Phase)
	}

	// Conservation: 2x endowment plus the multiplier surplus on the sent
	// amount.
	wantTotal := 2*st.InitialEndowment + st.PlayerASent*(int64(st.Multiplier)-1)
	if st.PlayerABalance+st.PlayerBBalance != wantTotal {
		t.Fatalf("conservation violated: %d+%d != %d", st.PlayerABalance, st.PlayerBBalance, wantTotal)
	}

	exp, err := f.experiment.Get(f.exp.ID)
	if err != nil {
		t.Fatalf("get experiment failed: %v", err)
	}
	if exp.Status != model.ExperimentCompleted {
		t.Fatalf("expected completed experiment, got %s", exp.Status)
	}
	if exp.CompletedAt == nil {
		t.Fatalf("completedAt not stamped")
	}
	if exp.GameResults == nil {
		t.Fatalf("gameResults not set")
	}
	if exp.GameResults.Efficiency != 115 {
		t.Fatalf("expected efficiency 115, got %v", exp.GameResults.Efficiency)
	}
	if exp.GameResults.TotalValue != 2.3 {
		t.Fatalf("expected total value 2.3, got %v", exp.GameResults.TotalValue)
	}

	for _, p := range exp.Participants {
		switch p.SessionID {
		case "session-a":
			if p.Earnings != 1.1 {
				t.Fatalf("player A earnings = %v, want 1.1", p.Earnings)
			}
			if p.ExperimentRole != model.RolePlayerA.Label() {
				t.Fatalf("player A role label = %q", p.ExperimentRole)
			}
		case "session-b":
			if p.Earnings != 1.2 {
				t.Fatalf("player B earnings = %v, want 1.2", p.Earnings)
			}
			if p.ExperimentRole != model.RolePlayerB.Label() {
				t.Fatalf("player B role label = %q", p.ExperimentRole)
			}
		}
	}
}

func TestStaleVersionRejected(t *testing.T) {
	f := newFixture(t, game.Config{}, true)

	if _, err := f.game.UpdateState(f.exp.ID, game.StateUpdate{
		PlayerASent: i64(100_000),
	}); err != nil {
		t.Fatalf("first merge failed: %v", err)
	}

	stale := int64(0)
	_, err := f.game.UpdateState(f.exp.ID, game.StateUpdate{
		PlayerASent: i64(200_000),
		BaseVersion: &stale,
	})
	if !errors.Is(err, appErr.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}

	sess, _ := f.game.Get(f.exp.ID)
	if sess.State.PlayerASent != 100_000 {
		t.Fatalf("stale merge overwrote state: %d", sess.State.PlayerASent)
	}
}

func TestVersionedMergeAccepted(t *testing.T) {
	f := newFixture(t, game.Config{}, true)

	sess, _ := f.game.Get(f.exp.ID)
	base := sess.State.Version
	st, err := f.game.UpdateState(f.exp.ID, game.StateUpdate{
		PlayerASent: i64(100_000),
		BaseVersion: &base,
	})
	if err != nil {
		t.Fatalf("versioned merge failed: %v", err)
	}
	if st.Version != base+1 {
		t.Fatalf("version not bumped: %d", st.Version)
	}
}

func TestReconcileRunsOnce(t *testing.T) {
	f := newFixture(t, game.Config{}, true)

	if _, err := f.game.UpdateState(f.exp.ID, game.StateUpdate{
		Phase: phase(model.PhaseRoundComplete),
	}); err != nil {
		t.Fatalf("terminal merge failed: %v", err)
	}

	// A second merge into a terminal phase must not reconcile again.
	if _, err := f.game.UpdateState(f.exp.ID, game.StateUpdate{
		Phase: phase(model.PhaseGameComplete),
	}); err != nil {
		t.Fatalf("second merge failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for f.sink.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("sink never invoked")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if f.sink.count() != 1 {
		t.Fatalf("expected exactly one reconciliation hand-off, got %d", f.sink.count())
	}
}

func TestAdminCreateSessionBypassesReadiness(t *testing.T) {
	f := newFixture(t, game.Config{}, false)

	sess, err := f.game.CreateSession(f.exp.ID)
	if err != nil {
		t.Fatalf("admin create session failed: %v", err)
	}
	if sess.State.Phase != model.PhasePlayerADecision {
		t.Fatalf("unexpected phase: %s", sess.State.Phase)
	}

	exp, _ := f.experiment.Get(f.exp.ID)
	if !exp.GameStarted {
		t.Fatalf("admin override did not set the gameStarted latch")
	}

	if _, err := f.game.CreateSession(f.exp.ID); !errors.Is(err, appErr.ErrGameAlreadyStarted) {
		t.Fatalf("expected ErrGameAlreadyStarted on second override, got %v", err)
	}
}

func TestCreateSessionUnknownExperiment(t *testing.T) {
	f := newFixture(t, game.Config{}, false)

	if _, err := f.game.CreateSession("missing"); !errors.Is(err, appErr.ErrExperimentNotFound) {
		t.Fatalf("expected ErrExperimentNotFound, got %v", err)
	}
	if _, err := f.game.Get("missing"); !errors.Is(err, appErr.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestDecisionTimeoutDrivesPhases(t *testing.T) {
	if testing.Short() {
		t.Skip("timeout test sleeps on real timers")
	}

	st := store.New()
	hub := fanout.NewHub()
	sink := &recordingSink{}
	gameService := game.NewService(st, hub, game.Config{EnforceDecisionTimeout: true}, sink)
	expService := experiment.NewService(st, hub, gameService, experiment.Config{
		ReaperInterval:  time.Hour,
		PresenceTimeout: time.Hour,
		StartDelay:      0,
	})

	p := params()
	p.TimePerDecision = 1
	exp, err := expService.Create(2, p)
	if err != nil {
		t.Fatalf("create experiment failed: %v", err)
	}
	expService.Join(exp.ID, "wallet-a", "session-a")
	expService.Join(exp.ID, "wallet-b", "session-b")
	expService.MarkReady(exp.ID, "session-a")
	expService.MarkReady(exp.ID, "session-b")

	// Neither player acts: both decision windows expire with the
	// zero-action default and the round completes.
	deadline := time.After(5 * time.Second)
	for {
		sess, err := gameService.Get(exp.ID)
		if err != nil {
			t.Fatalf("get session failed: %v", err)
		}
		if sess.State.Phase == model.PhaseRoundComplete {
			if sess.State.PlayerASent != 0 || sess.State.PlayerBReturned != 0 {
				t.Fatalf("timeout defaults not applied: sent=%d returned=%d", sess.State.PlayerASent, sess.State.PlayerBReturned)
			}
			if sess.State.PlayerABalance != 1_000_000 || sess.State.PlayerBBalance != 1_000_000 {
				t.Fatalf("timeout altered balances: %d/%d", sess.State.PlayerABalance, sess.State.PlayerBBalance)
			}
			got, _ := expService.Get(exp.ID)
			if got.Status != model.ExperimentCompleted {
				t.Fatalf("timeout completion did not reconcile")
			}
			if got.GameResults.Efficiency != 100 {
				t.Fatalf("expected efficiency 100, got %v", got.GameResults.Efficiency)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("round never completed, stuck in %s", sess.State.Phase)
		default:
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func TestTimeoutSurvivesCountdownSync(t *testing.T) {
	if testing.Short() {
		t.Skip("timeout test sleeps on real timers")
	}

	st := store.New()
	hub := fanout.NewHub()
	gameService := game.NewService(st, hub, game.Config{EnforceDecisionTimeout: true})
	expService := experiment.NewService(st, hub, gameService, experiment.Config{
		ReaperInterval:  time.Hour,
		PresenceTimeout: time.Hour,
		StartDelay:      0,
	})

	p := params()
	p.TimePerDecision = 1
	exp, err := expService.Create(2, p)
	if err != nil {
		t.Fatalf("create experiment failed: %v", err)
	}
	expService.Join(exp.ID, "wallet-a", "session-a")
	expService.Join(exp.ID, "wallet-b", "session-b")
	expService.MarkReady(exp.ID, "session-a")
	expService.MarkReady(exp.ID, "session-b")

	// A countdown sync bumps the version without touching the phase. It
	// must not disarm the pending decision timer.
	remaining := 1
	if _, err := gameService.UpdateState(exp.ID, game.StateUpdate{
		TimeRemaining: &remaining,
	}); err != nil {
		t.Fatalf("countdown sync failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		sess, err := gameService.Get(exp.ID)
		if err != nil {
			t.Fatalf("get session failed: %v", err)
		}
		if sess.State.Phase != model.PhasePlayerADecision {
			if sess.State.PlayerASent != 0 {
				t.Fatalf("timeout default not applied after sync: sent=%d", sess.State.PlayerASent)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("decision window never expired after a countdown sync")
		default:
			time.Sleep(25 * time.Millisecond)
		}
	}
}
