package archive_test

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/internal/service/archive"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.ExperimentRecord{}, &model.PayoutRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func completedExperiment() (*model.Experiment, *model.GameSession) {
	now := time.Now()
	exp := &model.Experiment{
		ID:              "exp-1",
		MaxParticipants: 2,
		Status:          model.ExperimentCompleted,
		CompletedAt:     &now,
		Parameters: model.GameParameters{
			InitialEndowment: 1,
			Multiplier:       2,
			Rounds:           1,
		},
		Participants: []*model.Participant{
			{ID: "p-1", ParticipantNumber: 1, SessionID: "s-1", WalletAddress: "w-1", Earnings: 1.1},
			{ID: "p-2", ParticipantNumber: 2, SessionID: "s-2", WalletAddress: "w-2", Earnings: 1.2},
		},
		GameResults: &model.GameResults{TotalValue: 2.3, Efficiency: 115},
	}
	sess := &model.GameSession{ID: "exp-1", ExperimentID: "exp-1"}
	return exp, sess
}

func TestHandleReconciliationWritesLedger(t *testing.T) {
	db := newTestDB(t)
	svc := archive.NewService(db)

	exp, sess := completedExperiment()
	svc.HandleReconciliation(context.Background(), exp, sess)

	var record model.ExperimentRecord
	if err := db.Where("experiment_id = ?", "exp-1").First(&record).Error; err != nil {
		t.Fatalf("experiment record not written: %v", err)
	}
	if record.TotalValue != 2.3 || record.Efficiency != 115 {
		t.Fatalf("aggregate columns wrong: value=%v efficiency=%v", record.TotalValue, record.Efficiency)
	}

	var payouts []model.PayoutRecord
	if err := db.Where("experiment_id = ?", "exp-1").Order("participant_id").Find(&payouts).Error; err != nil {
		t.Fatalf("payout query failed: %v", err)
	}
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payout rows, got %d", len(payouts))
	}
	if payouts[0].Earnings != 1.1 || payouts[0].Role != string(model.RolePlayerA) {
		t.Fatalf("payout row A wrong: %+v", payouts[0])
	}
	if payouts[1].Earnings != 1.2 || payouts[1].Role != string(model.RolePlayerB) {
		t.Fatalf("payout row B wrong: %+v", payouts[1])
	}
	if payouts[0].Status != "pending" {
		t.Fatalf("payout status = %q, want pending", payouts[0].Status)
	}
}

func TestDisabledWithoutDatabase(t *testing.T) {
	svc := archive.NewService(nil)
	if svc.Enabled() {
		t.Fatalf("nil-db archive reported enabled")
	}

	// Must be a no-op, not a panic.
	exp, sess := completedExperiment()
	svc.HandleReconciliation(context.Background(), exp, sess)
}
