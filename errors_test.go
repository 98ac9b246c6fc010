package rla

import (
	"errors"
	"strings"
	"testing"
)

func TestParseErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("bad digit")
	err := error(&ParseError{Kind: ErrMalformedEntity, Path: "ballot_manifest.hash", Err: cause})
	if !errors.Is(err, ErrMalformedEntity) || !errors.Is(err, cause) {
		t.Fatalf("expected kind and cause in chain: %v", err)
	}
	if errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("unexpected kind match")
	}
	if want := "rla: malformed entity at ballot_manifest.hash: bad digit"; err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want error
		text string
	}{
		{&TransitionError{Actor: ActorCounty, Intent: IntentRoundStart, From: CountyInitialState, To: CountyAuditUnderway}, ErrInvalidTransition, "cannot move"},
		{&StaleSnapshotError{Applied: 7, Received: 6}, ErrStaleSnapshot, "version 6 (applied 7)"},
		{&NetworkError{Op: "fetch", Err: errors.New("timeout")}, ErrNetworkFailure, "during fetch"},
		{&NetworkError{}, ErrNetworkFailure, "network failure"},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.want) {
			t.Fatalf("%T does not match %v", tc.err, tc.want)
		}
		if !strings.Contains(tc.err.Error(), tc.text) {
			t.Fatalf("%T message %q missing %q", tc.err, tc.err.Error(), tc.text)
		}
	}
}

func TestWrapEvaluationErrorFillsMissingFields(t *testing.T) {
	inner := &EvaluationError{Engine: "cel", Err: errors.New("no such key")}
	err := wrapEvaluationError("expr", "derived.x", "County", inner)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *EvaluationError, got %T", err)
	}
	if evalErr.Engine != "cel" || evalErr.Expr != "derived.x" || evalErr.Scope != "County" {
		t.Fatalf("unexpected fields: %+v", evalErr)
	}
	if wrapEvaluationError("expr", "x", "", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	if got := wrapEvaluatorError("js", errors.New("boom")).Error(); got != "rla: js evaluator: boom" {
		t.Fatalf("unexpected wrap: %q", got)
	}
}
