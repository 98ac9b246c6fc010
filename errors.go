package rla

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownActorKind  = errors.New("rla: unknown actor kind")
	ErrMalformedEntity   = errors.New("rla: malformed entity")
	ErrMalformedPayload  = errors.New("rla: malformed payload")
	ErrInvalidTransition = errors.New("rla: invalid transition")
	ErrRoundNotComplete  = errors.New("rla: round not complete")
	ErrNoActiveRound     = errors.New("rla: no active round")
	ErrStaleSnapshot     = errors.New("rla: stale snapshot")
	ErrNetworkFailure    = errors.New("rla: network failure")
	ErrActorMismatch     = errors.New("rla: actor mismatch")
	ErrInvalidIntent     = errors.New("rla: invalid intent")
	ErrSessionClosed     = errors.New("rla: session closed")
	ErrNoEvaluator       = errors.New("rla: evaluator not configured")
)

// ParseError reports a payload that could not be turned into a Snapshot.
// Kind is one of ErrUnknownActorKind, ErrMalformedPayload or
// ErrMalformedEntity; Path locates the offending field when known.
type ParseError struct {
	Kind error
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func malformed(path string, format string, args ...any) *ParseError {
	return &ParseError{Kind: ErrMalformedEntity, Path: path, Err: fmt.Errorf(format, args...)}
}

func errActor(actor Actor) error {
	if actor == "" {
		return fmt.Errorf("missing actor discriminator")
	}
	return fmt.Errorf("actor %q not recognised", actor)
}

// TransitionError reports a locally requested transition the registry does not
// allow. The state it was applied to is left unchanged.
type TransitionError struct {
	Actor  Actor
	Intent IntentKind
	From   ASMState
	To     ASMState
}

func (e *TransitionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rla: intent %s: %s cannot move from %s to %s", e.Intent, e.Actor, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return ErrInvalidTransition
}

// StaleSnapshotError reports a snapshot superseded by one already applied.
type StaleSnapshotError struct {
	Applied  uint64
	Received uint64
}

func (e *StaleSnapshotError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rla: stale snapshot version %d (applied %d)", e.Received, e.Applied)
}

func (e *StaleSnapshotError) Unwrap() error {
	if e == nil {
		return nil
	}
	return ErrStaleSnapshot
}

// NetworkError wraps a transport failure reported by a snapshot fetcher.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("rla: network failure: %v", e.Err)
	}
	return fmt.Sprintf("rla: network failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes ErrNetworkFailure and the transport error.
func (e *NetworkError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrNetworkFailure}
	}
	return []error{ErrNetworkFailure, e.Err}
}

// EvaluationError captures evaluator metadata alongside the originating error.
type EvaluationError struct {
	Engine string
	Expr   string
	Scope  string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rla: %s evaluator %s scope=%s: %v", e.Engine, describeExpression(e.Expr), e.Scope, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}

	if strings.HasPrefix(err.Error(), "rla:") {
		return err
	}
	return fmt.Errorf("rla: %s evaluator: %w", engine, err)
}

func wrapEvaluationError(engine, expr, scope string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Scope == "" {
			evalErr.Scope = scope
		}
		return evalErr
	}

	return &EvaluationError{
		Engine: engine,
		Expr:   expr,
		Scope:  scope,
		Err:    err,
	}
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleSnapshot)
}
