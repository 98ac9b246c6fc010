package activity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Severity ranks an event for routing.
type Severity string

const (
	SeverityInfo Severity = "info"
	// SeverityWarning marks drift, anomalies, rejected input and transport
	// failures.
	SeverityWarning Severity = "warning"
)

// Event is one observable step of an audit session. ActorID names the station
// or operator, TenantID the jurisdiction; both are free-form strings.
type Event struct {
	Verb       string
	ActorID    string
	UserID     string
	TenantID   string
	SessionID  string
	ObjectType string
	ObjectID   string
	Channel    string
	Severity   Severity
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivityHook receives normalized events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// WarningsOnly forwards only SeverityWarning events to hook.
func WarningsOnly(hook ActivityHook) ActivityHook {
	return HookFunc(func(ctx context.Context, event Event) error {
		if hook == nil || event.Severity != SeverityWarning {
			return nil
		}
		return hook.Notify(ctx, event)
	})
}

// Hooks fans an event out to every hook.
type Hooks []ActivityHook

func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes event and delivers it to each hook in order. Events
// without a verb, object type or object id are dropped. Hook failures do not
// stop delivery; they come back joined.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	normalized := NormalizeEvent(event)
	if normalized.Verb == "" || normalized.ObjectType == "" || normalized.ObjectID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizeEvent returns a trimmed copy of event with its own metadata map.
// A missing object id falls back to the session id, a missing severity to
// SeverityInfo and a missing timestamp to the current UTC time.
func NormalizeEvent(event Event) Event {
	out := event
	for _, field := range []*string{
		&out.Verb, &out.ActorID, &out.UserID, &out.TenantID,
		&out.SessionID, &out.ObjectType, &out.ObjectID, &out.Channel,
	} {
		*field = strings.TrimSpace(*field)
	}
	if out.ObjectID == "" {
		out.ObjectID = out.SessionID
	}
	if out.Severity == "" {
		out.Severity = SeverityInfo
	}
	out.Metadata = cloneMap(event.Metadata)
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now().UTC()
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
