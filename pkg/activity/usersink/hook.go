// Package usersink forwards audit activity to a go-users ActivitySink, so
// drift, transitions and rejected intents land in the same log as user
// actions.
package usersink

import (
	"context"
	"strings"

	"github.com/goliatone/go-rla/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook is an activity.ActivityHook backed by a go-users sink. Ids that are not
// UUIDs map to uuid.Nil and are kept verbatim in the record data.
type Hook struct {
	Sink usertypes.ActivitySink
}

func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	event = activity.NormalizeEvent(event)
	if event.Verb == "" || event.ObjectType == "" || event.ObjectID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	data := make(map[string]any, len(event.Metadata)+4)
	for key, value := range event.Metadata {
		data[key] = value
	}
	data["severity"] = string(event.Severity)
	if event.SessionID != "" {
		data["session_id"] = event.SessionID
	}

	record := usertypes.ActivityRecord{
		ActorID:    parseUUID(event.ActorID, "station_id", data),
		UserID:     parseUUID(event.UserID, "user_ref", data),
		TenantID:   parseUUID(event.TenantID, "jurisdiction", data),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		Data:       data,
		OccurredAt: event.OccurredAt,
	}
	return h.Sink.Log(ctx, record)
}

// parseUUID returns the parsed id, or uuid.Nil after stashing a non-empty
// non-UUID value under key.
func parseUUID(value, key string, data map[string]any) uuid.UUID {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		data[key] = value
		return uuid.Nil
	}
	return id
}
