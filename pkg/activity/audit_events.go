package activity

import (
	"fmt"
	"strings"
	"time"
)

// Verbs emitted by an audit session.
const (
	VerbSessionOpened    = "rla.session.opened"
	VerbSessionClosed    = "rla.session.closed"
	VerbSnapshotApplied  = "rla.snapshot.applied"
	VerbSnapshotStale    = "rla.snapshot.stale"
	VerbSnapshotRejected = "rla.snapshot.rejected"
	VerbDriftDetected    = "rla.asm.drift"
	VerbTransitioned     = "rla.asm.transitioned"
	VerbIntentRejected   = "rla.intent.rejected"
	VerbAnomaly          = "rla.merge.anomaly"
	VerbNetworkFailure   = "rla.network.failure"
)

// Object types carried by audit events.
const (
	ObjectSession  = "rla.session"
	ObjectSnapshot = "rla.snapshot"
	ObjectASM      = "rla.asm"
	ObjectIntent   = "rla.intent"
)

// AuditEventInput holds the fields shared by audit session events. Actor,
// states and intent are plain strings so this package does not depend on the
// engine's types.
type AuditEventInput struct {
	ActorID   string
	UserID    string
	TenantID  string
	SessionID string
	ObjectID  string
	Channel   string
	Metadata  map[string]any

	Actor    string
	CountyID int
	Version  uint64
	Intent   string
	From     string
	To       string
	Reason   string
	Err      error

	OccurredAt time.Time
}

// BuildSessionOpenedEvent reports a session attaching to a (possibly resumed)
// local mirror.
func BuildSessionOpenedEvent(input AuditEventInput) Event {
	return buildAuditEvent(VerbSessionOpened, ObjectSession, SeverityInfo, input)
}

// BuildSessionClosedEvent reports a session discarding its mirror.
func BuildSessionClosedEvent(input AuditEventInput) Event {
	return buildAuditEvent(VerbSessionClosed, ObjectSession, SeverityInfo, input)
}

func BuildSnapshotAppliedEvent(input AuditEventInput) Event {
	return buildAuditEvent(VerbSnapshotApplied, ObjectSnapshot, SeverityInfo, input)
}

// BuildSnapshotStaleEvent reports a response superseded by a newer one. It is
// routine under concurrent polling.
func BuildSnapshotStaleEvent(input AuditEventInput) Event {
	return buildAuditEvent(VerbSnapshotStale, ObjectSnapshot, SeverityInfo, input)
}

// BuildSnapshotRejectedEvent reports a payload the parser or merge refused.
func BuildSnapshotRejectedEvent(input AuditEventInput) Event {
	return buildAuditEvent(VerbSnapshotRejected, ObjectSnapshot, SeverityWarning, input)
}

// BuildDriftDetectedEvent reports a server state change the local registry
// does not consider a valid transition. The object id names the drifting
// machine, for example "County/3".
func BuildDriftDetectedEvent(input AuditEventInput) Event {
	if input.ObjectID == "" {
		input.ObjectID = machineID(input)
	}
	return buildAuditEvent(VerbDriftDetected, ObjectASM, SeverityWarning, input)
}

func BuildTransitionedEvent(input AuditEventInput) Event {
	if input.ObjectID == "" {
		input.ObjectID = machineID(input)
	}
	return buildAuditEvent(VerbTransitioned, ObjectASM, SeverityInfo, input)
}

func BuildIntentRejectedEvent(input AuditEventInput) Event {
	if input.ObjectID == "" {
		input.ObjectID = strings.TrimSpace(input.Intent)
	}
	return buildAuditEvent(VerbIntentRejected, ObjectIntent, SeverityWarning, input)
}

func BuildAnomalyEvent(input AuditEventInput) Event {
	return buildAuditEvent(VerbAnomaly, ObjectSnapshot, SeverityWarning, input)
}

func BuildNetworkFailureEvent(input AuditEventInput) Event {
	return buildAuditEvent(VerbNetworkFailure, ObjectSession, SeverityWarning, input)
}

func machineID(input AuditEventInput) string {
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return ""
	}
	if input.CountyID > 0 {
		return fmt.Sprintf("%s/%d", actor, input.CountyID)
	}
	return actor
}

func buildAuditEvent(verb, objectType string, severity Severity, input AuditEventInput) Event {
	metadata := cloneMap(input.Metadata)
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if actor := strings.TrimSpace(input.Actor); actor != "" {
		set("actor", actor)
	}
	if sessionID != "" {
		set("session_id", sessionID)
	}
	if input.CountyID > 0 {
		set("county_id", input.CountyID)
	}
	if input.Version > 0 {
		set("version", input.Version)
	}
	for key, value := range map[string]string{
		"intent": input.Intent,
		"from":   input.From,
		"to":     input.To,
		"reason": input.Reason,
	} {
		if value != "" {
			set(key, value)
		}
	}
	if input.Err != nil {
		set("error", input.Err.Error())
	}

	objectID := strings.TrimSpace(input.ObjectID)
	if objectID == "" {
		objectID = sessionID
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		SessionID:  sessionID,
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Severity:   severity,
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}
