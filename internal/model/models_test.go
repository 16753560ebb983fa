package model

import "testing"

func TestUnitConversionRoundTrips(t *testing.T) {
	cases := []float64{0, 0.1, 0.3, 1, 1.1, 2.3, 10}
	for _, major := range cases {
		minor := ToMinorUnits(major)
		if got := ToMajorUnits(minor); got != major {
			t.Fatalf("round trip %v: got %v (minor %d)", major, got, minor)
		}
	}
	if ToMinorUnits(0.3) != 300_000 {
		t.Fatalf("0.3 = %d minor units", ToMinorUnits(0.3))
	}
}

func TestRoleFromParticipantNumber(t *testing.T) {
	odd := &Participant{ParticipantNumber: 1}
	even := &Participant{ParticipantNumber: 2}
	if odd.Role() != RolePlayerA {
		t.Fatalf("participant 1 should be Player A, got %s", odd.Role())
	}
	if even.Role() != RolePlayerB {
		t.Fatalf("participant 2 should be Player B, got %s", even.Role())
	}
	if RolePlayerA.Label() != "Player A (Trustor)" || RolePlayerB.Label() != "Player B (Trustee)" {
		t.Fatalf("unexpected labels: %q, %q", RolePlayerA.Label(), RolePlayerB.Label())
	}
}

func TestTerminalPhases(t *testing.T) {
	if PhasePlayerADecision.Terminal() || PhasePlayerBDecision.Terminal() {
		t.Fatalf("decision phases must not be terminal")
	}
	if !PhaseRoundComplete.Terminal() || !PhaseGameComplete.Terminal() {
		t.Fatalf("complete phases must be terminal")
	}
}

func TestExperimentReadiness(t *testing.T) {
	exp := &Experiment{
		MaxParticipants: 2,
		Participants: []*Participant{
			{SessionID: "s-1", IsReady: true},
			{SessionID: "s-2"},
		},
	}
	if exp.AllReady() {
		t.Fatalf("half-ready experiment reported all ready")
	}
	if exp.ReadyCount() != 1 {
		t.Fatalf("ready count = %d, want 1", exp.ReadyCount())
	}
	exp.Participants[1].IsReady = true
	if !exp.AllReady() {
		t.Fatalf("fully ready experiment not reported ready")
	}
	if exp.FindBySession("s-2") == nil || exp.FindBySession("missing") != nil {
		t.Fatalf("FindBySession lookup wrong")
	}
}
