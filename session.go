package rla

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-rla/layering"
	"github.com/goliatone/go-rla/pkg/activity"
	"github.com/goliatone/go-rla/pkg/state"
	"github.com/google/uuid"
)

// Session owns the local mirror for one logged-in actor. Every change goes
// through Merge or ApplyIntent; callers only ever see clones. Methods are
// serialised internally, so a Poller may apply snapshots while the UI reads.
type Session struct {
	mu      sync.Mutex
	cfg     sessionConfig
	id      string
	actor   Actor
	state   AppState
	meta    state.Meta
	network error
	emitter *activity.Emitter
	closed  bool
}

// Alerts is the banner level state of a session: the local upload outcomes
// and the last transport failure, if it has not been superseded.
type Alerts struct {
	Manifest  Alert
	CVRImport Alert
	Network   error
}

// Open starts a session for actor. With WithStore and WithSessionID, a stored
// checkpoint of the same actor is resumed instead of the initial state.
func Open(ctx context.Context, actor Actor, opts ...Option) (*Session, error) {
	cfg := applyOptions(opts)
	initial, err := NewAppState(actor)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:   cfg,
		id:    cfg.sessionID,
		actor: actor,
		state: initial,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.emitter = activity.NewEmitter(cfg.activityHooks, activity.Config{
		Channel:   cfg.activity.Channel,
		SessionID: s.id,
		Now:       cfg.clock,
	})

	start := time.Now()
	resumed := false
	if cfg.store != nil {
		loaded, meta, ok, err := state.Resolver[AppState]{Store: cfg.store}.Resolve(ctx, s.ref(), initial)
		if err != nil {
			s.logSync(SyncLogEvent{Op: "open", Duration: time.Since(start), Err: err})
			return nil, err
		}
		if ok {
			if loaded.Actor != actor {
				err := fmt.Errorf("%w: checkpoint %s holds %q state", ErrActorMismatch, s.id, loaded.Actor)
				s.logSync(SyncLogEvent{Op: "open", Duration: time.Since(start), Err: err})
				return nil, err
			}
			s.state, s.meta, resumed = loaded, meta, true
		}
	}

	s.logSync(SyncLogEvent{Op: "open", Duration: time.Since(start), Fields: map[string]any{"resumed": resumed}})
	s.emit(ctx, activity.BuildSessionOpenedEvent(s.eventInput(activity.AuditEventInput{
		Metadata: map[string]any{"resumed": resumed},
	})))
	return s, nil
}

// ID returns the session identifier, also used as the checkpoint key.
func (s *Session) ID() string { return s.id }

func (s *Session) Actor() Actor { return s.actor }

// State returns a deep copy of the current mirror.
func (s *Session) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return layering.Clone(s.state)
}

// Apply parses raw and merges it. Audited records are checked against the
// contest definitions already held locally when the payload carries none.
func (s *Session) Apply(ctx context.Context, raw []byte) (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AppState{}, ErrSessionClosed
	}
	start := time.Now()
	snap, err := Parse(raw, WithContestDefs(s.contestDefs()))
	if err != nil {
		s.logSync(SyncLogEvent{Op: "parse", Duration: time.Since(start), Err: err})
		s.emit(ctx, activity.BuildSnapshotRejectedEvent(s.eventInput(activity.AuditEventInput{Err: err})))
		return layering.Clone(s.state), err
	}
	return s.applySnapshot(ctx, snap, start)
}

// ApplySnapshot merges an already parsed snapshot.
func (s *Session) ApplySnapshot(ctx context.Context, snap Snapshot) (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AppState{}, ErrSessionClosed
	}
	return s.applySnapshot(ctx, snap, time.Now())
}

func (s *Session) applySnapshot(ctx context.Context, snap Snapshot, start time.Time) (AppState, error) {
	next, err := Merge(s.state, snap)
	if err != nil {
		s.logSync(SyncLogEvent{Op: "merge", Version: snap.Version, Duration: time.Since(start), Err: err})
		input := s.eventInput(activity.AuditEventInput{Version: snap.Version, Err: err})
		if isStale(err) {
			s.emit(ctx, activity.BuildSnapshotStaleEvent(input))
		} else {
			s.emit(ctx, activity.BuildSnapshotRejectedEvent(input))
		}
		return layering.Clone(s.state), err
	}

	s.state = next
	s.network = nil
	s.logSync(SyncLogEvent{
		Op:       "merge",
		Version:  next.Version,
		Duration: time.Since(start),
		Fields:   map[string]any{"drift": len(next.Drift), "anomalies": len(next.Anomalies)},
	})
	s.emit(ctx, activity.BuildSnapshotAppliedEvent(s.eventInput(activity.AuditEventInput{Version: next.Version})))
	for _, drift := range next.Drift {
		s.emit(ctx, activity.BuildDriftDetectedEvent(s.eventInput(activity.AuditEventInput{
			Actor:    string(drift.Actor),
			CountyID: drift.CountyID,
			Version:  next.Version,
			From:     string(drift.From),
			To:       string(drift.To),
		})))
	}
	for _, anomaly := range next.Anomalies {
		s.emit(ctx, activity.BuildAnomalyEvent(s.eventInput(activity.AuditEventInput{
			CountyID: anomaly.CountyID,
			Version:  next.Version,
			Reason:   string(anomaly.Kind),
			Metadata: map[string]any{"detail": anomaly.Detail},
		})))
	}
	s.checkpoint(ctx)
	return layering.Clone(s.state), nil
}

// Dispatch applies a locally initiated intent for actor. Rejected intents
// leave the mirror untouched and are reported to the activity hooks.
func (s *Session) Dispatch(ctx context.Context, actor Actor, intent Intent) (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AppState{}, ErrSessionClosed
	}
	start := time.Now()
	from := s.machine(actor)
	next, err := ApplyIntent(s.state, actor, intent)
	fields := map[string]any{"intent": string(intent.Kind)}
	if err != nil {
		s.logSync(SyncLogEvent{Op: "intent", Version: s.state.Version, Duration: time.Since(start), Err: err, Fields: fields})
		s.emit(ctx, activity.BuildIntentRejectedEvent(s.eventInput(activity.AuditEventInput{
			Actor:  string(actor),
			Intent: string(intent.Kind),
			From:   string(from),
			To:     string(intent.Target),
			Reason: intent.Reason,
			Err:    err,
		})))
		return layering.Clone(s.state), err
	}

	s.state = next
	to := s.machine(actor)
	fields["from"], fields["to"] = string(from), string(to)
	s.logSync(SyncLogEvent{Op: "intent", Version: s.state.Version, Duration: time.Since(start), Fields: fields})
	s.emit(ctx, activity.BuildTransitionedEvent(s.eventInput(activity.AuditEventInput{
		Actor:  string(actor),
		Intent: string(intent.Kind),
		From:   string(from),
		To:     string(to),
		Reason: intent.Reason,
	})))
	s.checkpoint(ctx)
	return layering.Clone(s.state), nil
}

// ReportNetworkFailure records a transport failure as a banner alert. The
// mirror is left as it was; the next applied snapshot clears the alert.
func (s *Session) ReportNetworkFailure(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		netErr = &NetworkError{Op: "fetch", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.network = netErr
	s.logSync(SyncLogEvent{Op: "network", Version: s.state.Version, Err: netErr})
	s.emit(ctx, activity.BuildNetworkFailureEvent(s.eventInput(activity.AuditEventInput{Err: netErr})))
	return netErr
}

func (s *Session) Alerts() Alerts {
	s.mu.Lock()
	defer s.mu.Unlock()
	alerts := Alerts{Manifest: AlertNone, CVRImport: AlertNone, Network: s.network}
	if s.state.County != nil {
		alerts.Manifest = s.state.County.ManifestAlert
		alerts.CVRImport = s.state.County.CVRImportAlert
	}
	return alerts
}

// DismissAlerts resets the upload alerts to None and clears the network banner.
func (s *Session) DismissAlerts(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.network = nil
	if s.state.County == nil {
		return
	}
	if s.state.County.ManifestAlert == AlertNone && s.state.County.CVRImportAlert == AlertNone {
		return
	}
	next := layering.Clone(s.state)
	next.County.ManifestAlert = AlertNone
	next.County.CVRImportAlert = AlertNone
	s.state = next
	s.checkpoint(ctx)
}

// Evaluate runs expression over the current mirror with the session's
// evaluator configuration.
func (s *Session) Evaluate(expression string) (any, error) {
	return s.EvaluateWith(RuleContext{}, expression)
}

func (s *Session) EvaluateWith(ctx RuleContext, expression string) (any, error) {
	s.mu.Lock()
	current := layering.Clone(s.state)
	cfg := s.cfg
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	return evaluateWith(cfg, current, ctx, expression)
}

// Close discards the mirror and its checkpoint, as on logout or a missed
// deadline. Later calls return ErrSessionClosed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	version := s.state.Version
	var err error
	if s.cfg.store != nil {
		err = s.cfg.store.Delete(ctx, s.ref())
	}
	s.logSync(SyncLogEvent{Op: "close", Version: version, Err: err})
	s.emit(ctx, activity.BuildSessionClosedEvent(s.eventInput(activity.AuditEventInput{Version: version})))
	s.state = AppState{Actor: s.actor}
	s.network = nil
	return err
}

func (s *Session) contestDefs() map[int]Contest {
	if s.state.County == nil {
		return nil
	}
	return s.state.County.Data.ContestDefs
}

func (s *Session) machine(actor Actor) ASMState {
	switch {
	case s.state.DOS != nil:
		return s.state.DOS.ASM
	case s.state.County == nil:
		return ""
	case actor == ActorAuditBoard:
		return s.state.County.AuditBoardASM
	default:
		return s.state.County.ASM
	}
}

func (s *Session) ref() state.Ref {
	return state.Ref{Namespace: string(s.actor), ID: s.id}
}

// checkpoint saves the mirror when a store is configured. A concurrent writer
// on the same key loses to this session: the session is the mirror's owner.
func (s *Session) checkpoint(ctx context.Context) {
	if s.cfg.store == nil {
		return
	}
	start := time.Now()
	snapshot := layering.Clone(s.state)
	meta := state.Meta{
		ETag:       s.meta.ETag,
		SnapshotID: strconv.FormatUint(snapshot.Version, 10),
		UpdatedAt:  s.cfg.clock().UTC(),
	}
	resolver := state.Resolver[AppState]{Store: s.cfg.store}
	_, saved, err := resolver.Mutate(ctx, s.ref(), meta, func(current *AppState) error {
		*current = snapshot
		return nil
	})
	if errors.Is(err, state.ErrETagMismatch) {
		meta.ETag = ""
		saved, err = s.cfg.store.Save(ctx, s.ref(), snapshot, meta)
	}
	s.logSync(SyncLogEvent{Op: "checkpoint", Version: snapshot.Version, Duration: time.Since(start), Err: err})
	if err == nil {
		s.meta = saved
	}
}

func (s *Session) logSync(event SyncLogEvent) {
	event.Actor = s.actor
	if event.Fields == nil {
		event.Fields = map[string]any{}
	}
	event.Fields["session_id"] = s.id
	s.cfg.syncLogger().LogSync(event)
}

func (s *Session) eventInput(input activity.AuditEventInput) activity.AuditEventInput {
	input.SessionID = s.id
	if input.Actor == "" {
		input.Actor = string(s.actor)
	}
	return input
}

func (s *Session) emit(ctx context.Context, event activity.Event) {
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.cfg.syncLogger().LogSync(SyncLogEvent{
			Op:     "activity",
			Actor:  s.actor,
			Err:    err,
			Fields: map[string]any{"session_id": s.id, "verb": event.Verb},
		})
	}
}
