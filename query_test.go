package rla

import (
	"reflect"
	"testing"
)

func TestCountyQueries(t *testing.T) {
	cases := []struct {
		name     string
		state    AppState
		started  bool
		canAudit bool
		signedIn bool
		canSign  bool
		report   bool
		complete bool
	}{
		{name: "initial", state: mustState(t, ActorCounty)},
		{name: "files uploaded", state: replay(t, ActorCounty, "county_manifest_ok.json", "county_cvrs_ok.json")},
		{
			name:     "round open",
			state:    roundOpenState(t),
			started:  true,
			canAudit: true,
			signedIn: true,
			report:   true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AuditStarted(tc.state); got != tc.started {
				t.Fatalf("AuditStarted: expected %v, got %v", tc.started, got)
			}
			if got := CanAudit(tc.state); got != tc.canAudit {
				t.Fatalf("CanAudit: expected %v, got %v", tc.canAudit, got)
			}
			if got := AuditBoardSignedIn(tc.state); got != tc.signedIn {
				t.Fatalf("AuditBoardSignedIn: expected %v, got %v", tc.signedIn, got)
			}
			if got := CanSignIn(tc.state); got != tc.canSign {
				t.Fatalf("CanSignIn: expected %v, got %v", tc.canSign, got)
			}
			if got := CanRenderReport(tc.state); got != tc.report {
				t.Fatalf("CanRenderReport: expected %v, got %v", tc.report, got)
			}
			if got := IsAuditComplete(tc.state); got != tc.complete {
				t.Fatalf("IsAuditComplete: expected %v, got %v", tc.complete, got)
			}
		})
	}
}

func TestCanAuditNeedsSuccessfulImport(t *testing.T) {
	state := roundOpenState(t)
	state.County.Data.CVRImportStatus.State = ImportInProgress
	if CanAudit(state) {
		t.Fatalf("expected in-progress import to block auditing")
	}
	state = roundOpenState(t)
	state.County.Data.CurrentRound.BallotsRemaining = 0
	if CanAudit(state) {
		t.Fatalf("expected exhausted round to block auditing")
	}
}

func TestCanSignInAfterAuditStarts(t *testing.T) {
	state := roundOpenState(t)
	state.County.AuditBoardASM = AuditInitialState
	if !CanSignIn(state) {
		t.Fatalf("expected sign in once the audit is underway")
	}
	fresh := mustState(t, ActorCounty)
	if CanSignIn(fresh) {
		t.Fatalf("expected no sign in before the audit starts")
	}
}

func TestIsDeadlineMissed(t *testing.T) {
	state := mustState(t, ActorCounty)
	next, err := Merge(state, mustParse(t, payload(t, map[string]any{"type": "County", "version": 1, "asm_state": "DEADLINE_MISSED"})))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !IsDeadlineMissed(next) || IsDeadlineMissed(state) {
		t.Fatalf("IsDeadlineMissed does not follow the county state")
	}
}

func TestQueriesIgnoreOtherActor(t *testing.T) {
	dos := replay(t, ActorDOS, "dos_status.json")
	if CanAudit(dos) || AuditStarted(dos) || CanSignIn(dos) || RoundsComplete(dos) || IsDeadlineMissed(dos) {
		t.Fatalf("county queries must be false for a DOS state")
	}
	if !CanRenderReport(dos) {
		t.Fatalf("expected DOS report during an ongoing audit")
	}
}

func TestAllRoundsComplete(t *testing.T) {
	statuses := map[int]CountyStatus{
		1: {CurrentRound: &Round{Number: 1, Complete: true}},
		2: {},
	}
	if !AllRoundsComplete(statuses) {
		t.Fatalf("expected complete when every round is complete or absent")
	}
	statuses[3] = CountyStatus{CurrentRound: &Round{Number: 2}}
	if AllRoundsComplete(statuses) {
		t.Fatalf("expected incomplete round to block")
	}
	if !AllRoundsComplete(nil) {
		t.Fatalf("expected no counties to count as complete")
	}
}

func TestDiscrepancyTotal(t *testing.T) {
	counts := DiscrepancyCount{-2: 1, -1: 2, 0: 3, 1: 4, 2: 5, 7: 100}
	if got := DiscrepancyTotal(counts); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
	if got := DiscrepancyTotal(nil); got != 0 {
		t.Fatalf("expected 0 for nil counts, got %d", got)
	}
}

func TestCountiesWithDrift(t *testing.T) {
	state := AppState{Actor: ActorDOS, Drift: []Drift{
		{Actor: ActorCounty, CountyID: 9},
		{Actor: ActorAuditBoard, CountyID: 2},
		{Actor: ActorCounty, CountyID: 9},
		{Actor: ActorDOS},
	}}
	if got := CountiesWithDrift(state); !reflect.DeepEqual(got, []int{2, 9}) {
		t.Fatalf("expected [2 9], got %v", got)
	}
	if got := CountiesWithDrift(AppState{}); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
