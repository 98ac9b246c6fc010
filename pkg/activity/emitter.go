package activity

import (
	"context"
	"strings"
	"time"
)

// DefaultChannel is stamped on events emitted without a channel.
const DefaultChannel = "rla"

// Config holds the defaults an Emitter stamps on every event of one session.
type Config struct {
	Channel   string
	SessionID string
	Now       func() time.Time
}

// Emitter delivers a session's events to its hooks, filling in the channel,
// session id and timestamp the builders leave empty.
type Emitter struct {
	hooks     Hooks
	channel   string
	sessionID string
	now       func() time.Time
}

func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	var kept Hooks
	for _, hook := range hooks {
		if hook != nil {
			kept = append(kept, hook)
		}
	}
	return &Emitter{
		hooks:     kept,
		channel:   channel,
		sessionID: strings.TrimSpace(cfg.SessionID),
		now:       cfg.Now,
	}
}

// Enabled reports whether any hook is attached.
func (e *Emitter) Enabled() bool {
	return e != nil && e.hooks.Enabled()
}

func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	if strings.TrimSpace(event.SessionID) == "" {
		event.SessionID = e.sessionID
	}
	if event.OccurredAt.IsZero() && e.now != nil {
		event.OccurredAt = e.now()
	}
	return e.hooks.Notify(ctx, event)
}
