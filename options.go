package rla

import (
	"strings"
	"time"

	"github.com/goliatone/go-rla/pkg/activity"
	"github.com/goliatone/go-rla/pkg/state"
)

// WithEvaluator configures the evaluator used for declarative queries.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *sessionConfig) {
		cfg.evaluator = e
	}
}

// WithStore checkpoints the session state into store after every change.
func WithStore(store state.Store[AppState]) Option {
	return func(cfg *sessionConfig) {
		cfg.store = store
	}
}

// WithSessionID fixes the session identifier, which is also the checkpoint
// key. Opening a session with the id of a stored checkpoint resumes it.
func WithSessionID(id string) Option {
	return func(cfg *sessionConfig) {
		cfg.sessionID = strings.TrimSpace(id)
	}
}

// WithClock replaces time.Now for alerts, events and checkpoint metadata.
func WithClock(now func() time.Time) Option {
	return func(cfg *sessionConfig) {
		cfg.now = now
	}
}

// WithActivityHooks attaches activity hooks to the session.
// Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *sessionConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityChannel sets the channel stamped on emitted events.
func WithActivityChannel(channel string) Option {
	return func(cfg *sessionConfig) {
		cfg.activity.Channel = strings.TrimSpace(channel)
	}
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}
