package rla

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-rla/pkg/activity"
	"github.com/goliatone/go-rla/pkg/state"
)

var sessionClock = func() time.Time { return time.Date(2026, 11, 5, 9, 30, 0, 0, time.UTC) }

func openCounty(t *testing.T, opts ...Option) (*Session, *activity.CaptureHook) {
	t.Helper()
	capture := &activity.CaptureHook{}
	base := []Option{WithSessionID("station-1"), WithClock(sessionClock), WithActivityHooks(activity.Hooks{capture})}
	session, err := Open(context.Background(), ActorCounty, append(base, opts...)...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return session, capture
}

func TestSessionApplyEmitsEvents(t *testing.T) {
	ctx := context.Background()
	session, capture := openCounty(t)

	for _, name := range []string{"county_manifest_ok.json", "county_cvrs_ok.json", "county_round_open.json"} {
		if _, err := session.Apply(ctx, readFixture(t, name)); err != nil {
			t.Fatalf("apply %s: %v", name, err)
		}
	}
	if _, err := session.Apply(ctx, readFixture(t, "county_cvrs_ok.json")); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected stale snapshot, got %v", err)
	}
	current, err := session.Apply(ctx, []byte(`{"type":`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
	if current.Version != 3 {
		t.Fatalf("rejected payload must return the current state, got version %d", current.Version)
	}

	want := []string{
		activity.VerbSessionOpened,
		activity.VerbSnapshotApplied,
		activity.VerbSnapshotApplied,
		activity.VerbSnapshotApplied,
		activity.VerbDriftDetected,
		activity.VerbSnapshotStale,
		activity.VerbSnapshotRejected,
	}
	if got := capture.Verbs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events:\n got %v\nwant %v", got, want)
	}
	drift := capture.Events[4]
	if drift.ObjectID != string(ActorAuditBoard) || drift.Metadata["to"] != string(RoundInProgress) {
		t.Fatalf("unexpected drift event: %+v", drift)
	}
	if drift.Severity != activity.SeverityWarning || capture.Events[1].Severity != activity.SeverityInfo {
		t.Fatalf("unexpected severities: drift %q applied %q", drift.Severity, capture.Events[1].Severity)
	}
	for _, event := range capture.Events {
		if event.Channel != activity.DefaultChannel || event.SessionID != "station-1" || event.Metadata["session_id"] != "station-1" {
			t.Fatalf("event missing defaults: %+v", event)
		}
		if !event.OccurredAt.Equal(sessionClock()) {
			t.Fatalf("expected session clock on events, got %v", event.OccurredAt)
		}
	}
}

func TestSessionStateIsDetached(t *testing.T) {
	ctx := context.Background()
	session, _ := openCounty(t)
	applied, err := session.Apply(ctx, readFixture(t, "county_cvrs_ok.json"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	applied.County.ASM = DeadlineMissed
	got := session.State()
	got.County.Data.ContestDefs[1] = Contest{Name: "changed"}
	if current := session.State(); current.County.ASM != BallotManifestAndCVRsOK || current.County.Data.ContestDefs[1].Name != "Governor" {
		t.Fatalf("session state leaked to callers: %+v", current.County)
	}
}

func TestSessionCheckpointAndResume(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore[AppState]()
	session, _ := openCounty(t, WithStore(store))

	for _, name := range []string{"county_manifest_ok.json", "county_cvrs_ok.json"} {
		if _, err := session.Apply(ctx, readFixture(t, name)); err != nil {
			t.Fatalf("apply %s: %v", name, err)
		}
	}
	if _, err := session.Dispatch(ctx, ActorCounty, Intent{Kind: IntentManifestUploadFail}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	stored, meta, ok, err := store.Load(ctx, state.Ref{Namespace: "County", ID: "station-1"})
	if err != nil || !ok {
		t.Fatalf("expected checkpoint, ok=%v err=%v", ok, err)
	}
	if stored.Version != 2 || stored.County.ManifestAlert != AlertFail || meta.SnapshotID != "2" || meta.ETag == "" {
		t.Fatalf("unexpected checkpoint: version=%d meta=%+v", stored.Version, meta)
	}

	resumed, capture := openCounty(t, WithStore(store))
	if got := resumed.State(); got.Version != 2 || got.County.ASM != BallotManifestAndCVRsOK {
		t.Fatalf("expected resumed state at version 2, got %+v", got)
	}
	if capture.Events[0].Metadata["resumed"] != true {
		t.Fatalf("expected resumed flag on open event: %+v", capture.Events[0].Metadata)
	}
	if _, err := resumed.Apply(ctx, readFixture(t, "county_manifest_ok.json")); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("resumed session must keep the version gate, got %v", err)
	}

	if err := resumed.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected checkpoint removed on close, %d left", store.Len())
	}
}

func TestSessionResumeRejectsOtherActor(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore[AppState]()
	county := mustState(t, ActorCounty)
	if _, err := store.Save(ctx, state.Ref{Namespace: "DOS", ID: "shared"}, county, state.Meta{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := Open(ctx, ActorDOS, WithStore(store), WithSessionID("shared"))
	if !errors.Is(err, ErrActorMismatch) {
		t.Fatalf("expected actor mismatch, got %v", err)
	}
	if _, err := Open(ctx, Actor("Auditor")); !errors.Is(err, ErrUnknownActorKind) {
		t.Fatalf("expected unknown actor, got %v", err)
	}
}

func TestSessionGeneratesID(t *testing.T) {
	first, err := Open(context.Background(), ActorDOS)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := Open(context.Background(), ActorDOS)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if first.ID() == "" || first.ID() == second.ID() {
		t.Fatalf("expected distinct generated ids, got %q and %q", first.ID(), second.ID())
	}
	if first.Actor() != ActorDOS || first.State().DOS.ASM != DOSInitialState {
		t.Fatalf("unexpected initial DOS session: %+v", first.State())
	}
}

func TestSessionDispatch(t *testing.T) {
	ctx := context.Background()
	session, capture := openCounty(t)

	next, err := session.Dispatch(ctx, ActorCounty, Intent{Kind: IntentManifestUploadOk, File: &UploadedFile{FileName: "m.csv", Hash: testHash}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if next.County.ASM != BallotManifestOK {
		t.Fatalf("expected %s, got %s", BallotManifestOK, next.County.ASM)
	}
	if _, err := session.Dispatch(ctx, ActorCounty, Intent{Kind: IntentRoundStart}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got := session.State().County.ASM; got != BallotManifestOK {
		t.Fatalf("rejected intent changed state to %s", got)
	}

	events := capture.Events
	if got := capture.Verbs(); !reflect.DeepEqual(got, []string{activity.VerbSessionOpened, activity.VerbTransitioned, activity.VerbIntentRejected}) {
		t.Fatalf("unexpected events %v", got)
	}
	transitioned := events[1].Metadata
	if transitioned["from"] != string(CountyInitialState) || transitioned["to"] != string(BallotManifestOK) {
		t.Fatalf("unexpected transition metadata: %+v", transitioned)
	}
	if events[2].Metadata["error"] == nil || events[2].Metadata["intent"] != string(IntentRoundStart) {
		t.Fatalf("unexpected rejection metadata: %+v", events[2].Metadata)
	}
}

func TestSessionAlerts(t *testing.T) {
	ctx := context.Background()
	session, _ := openCounty(t)

	if alerts := session.Alerts(); alerts.Manifest != AlertNone || alerts.CVRImport != AlertNone || alerts.Network != nil {
		t.Fatalf("unexpected initial alerts: %+v", alerts)
	}
	if _, err := session.Dispatch(ctx, ActorCounty, Intent{Kind: IntentCVRImportFail, Reason: "bad header"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if alerts := session.Alerts(); alerts.CVRImport != AlertFail {
		t.Fatalf("expected cvr import failure alert, got %+v", alerts)
	}
	if _, err := session.Apply(ctx, readFixture(t, "county_manifest_ok.json")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if alerts := session.Alerts(); alerts.CVRImport != AlertFail {
		t.Fatalf("merge must keep local alerts, got %+v", alerts)
	}
	session.DismissAlerts(ctx)
	if alerts := session.Alerts(); alerts.CVRImport != AlertNone || alerts.Manifest != AlertNone {
		t.Fatalf("expected alerts dismissed, got %+v", alerts)
	}
}

func TestSessionNetworkFailure(t *testing.T) {
	ctx := context.Background()
	session, capture := openCounty(t)
	if _, err := session.Apply(ctx, readFixture(t, "county_manifest_ok.json")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	before := session.State()

	cause := errors.New("connection refused")
	err := session.ReportNetworkFailure(ctx, cause)
	if !errors.Is(err, ErrNetworkFailure) || !errors.Is(err, cause) {
		t.Fatalf("expected network failure wrapping the cause, got %v", err)
	}
	if alerts := session.Alerts(); !errors.Is(alerts.Network, ErrNetworkFailure) {
		t.Fatalf("expected network banner, got %+v", alerts)
	}
	if !reflect.DeepEqual(session.State(), before) {
		t.Fatalf("network failure changed the mirror")
	}
	if last := capture.Events[len(capture.Events)-1]; last.Verb != activity.VerbNetworkFailure {
		t.Fatalf("expected network failure event, got %s", last.Verb)
	}

	if _, err := session.Apply(ctx, readFixture(t, "county_cvrs_ok.json")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if alerts := session.Alerts(); alerts.Network != nil {
		t.Fatalf("expected banner cleared by applied snapshot, got %v", alerts.Network)
	}
	if err := session.ReportNetworkFailure(ctx, nil); err != nil {
		t.Fatalf("nil failure must be ignored, got %v", err)
	}
}

func TestSessionEvaluate(t *testing.T) {
	ctx := context.Background()
	session, _ := openCounty(t, WithEvaluator(NewCELEvaluator(CELWithFunctionRegistry(DefaultFunctionRegistry()))))
	for _, name := range []string{"county_manifest_ok.json", "county_cvrs_ok.json", "county_round_open.json"} {
		if _, err := session.Apply(ctx, readFixture(t, name)); err != nil {
			t.Fatalf("apply %s: %v", name, err)
		}
	}
	got, err := session.Evaluate(`derived.canAudit && actor == "County"`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != true {
		t.Fatalf("expected true, got %v", got)
	}
}

func TestSessionClose(t *testing.T) {
	ctx := context.Background()
	session, capture := openCounty(t)
	if _, err := session.Apply(ctx, readFixture(t, "county_manifest_ok.json")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if last := capture.Events[len(capture.Events)-1]; last.Verb != activity.VerbSessionClosed {
		t.Fatalf("expected close event, got %s", last.Verb)
	}
	if got := session.State(); got.Version != 0 || got.County != nil {
		t.Fatalf("expected mirror discarded, got %+v", got)
	}

	checks := map[string]error{}
	_, checks["apply"] = session.Apply(ctx, readFixture(t, "county_cvrs_ok.json"))
	_, checks["dispatch"] = session.Dispatch(ctx, ActorCounty, Intent{Kind: IntentManifestUploadFail})
	_, checks["evaluate"] = session.Evaluate("true")
	checks["network"] = session.ReportNetworkFailure(ctx, errors.New("timeout"))
	checks["close"] = session.Close(ctx)
	for name, err := range checks {
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("%s after close: expected ErrSessionClosed, got %v", name, err)
		}
	}
}

func TestSessionConcurrentUse(t *testing.T) {
	ctx := context.Background()
	session, _ := openCounty(t)
	payloads := make([][]byte, 0, 8)
	for version := 1; version <= 8; version++ {
		payloads = append(payloads, payload(t, map[string]any{"type": "County", "version": version}))
	}
	var wg sync.WaitGroup
	for _, raw := range payloads {
		wg.Add(2)
		go func(raw []byte) {
			defer wg.Done()
			_, _ = session.Apply(ctx, raw)
		}(raw)
		go func() {
			defer wg.Done()
			_ = session.State()
			_ = session.Alerts()
		}()
	}
	wg.Wait()
	if got := session.State().Version; got != 8 {
		t.Fatalf("expected highest version to win, got %d", got)
	}
}

func TestSessionLogsOperations(t *testing.T) {
	ctx := context.Background()
	var (
		mu     sync.Mutex
		events []SyncLogEvent
	)
	logger := SyncLoggerFunc(func(event SyncLogEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})
	session, _ := openCounty(t, WithLogger(logger), WithStore(state.NewMemoryStore[AppState]()))
	if _, err := session.Apply(ctx, readFixture(t, "county_manifest_ok.json")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	ops := make([]string, 0, len(events))
	for _, event := range events {
		ops = append(ops, event.Op)
		if event.Actor != ActorCounty || event.Fields["session_id"] != "station-1" {
			t.Fatalf("log event missing session fields: %+v", event)
		}
	}
	if !reflect.DeepEqual(ops, []string{"open", "merge", "checkpoint"}) {
		t.Fatalf("unexpected log ops %v", ops)
	}
	if events[1].Version != 1 || events[1].Fields["drift"] != 0 {
		t.Fatalf("unexpected merge log: %+v", events[1])
	}
}
