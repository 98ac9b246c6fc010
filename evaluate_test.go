package rla

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

type queryFixture struct {
	Snapshots []string `json:"snapshots"`
	Cases     []struct {
		Name   string            `json:"name"`
		Rule   string            `json:"rule"`
		Rules  map[string]string `json:"rules"`
		Expect any               `json:"expect"`
	} `json:"cases"`
}

func TestQueriesAcrossEvaluators(t *testing.T) {
	fx := loadFixture[queryFixture](t, "queries.json")
	state := replay(t, ActorCounty, fx.Snapshots...)

	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			evaluator := factory.new(nil, DefaultFunctionRegistry())
			if evaluator == nil {
				t.Skipf("%s evaluator not available in this build", factory.name)
			}
			for _, tc := range fx.Cases {
				t.Run(tc.Name, func(t *testing.T) {
					rule := tc.Rule
					if specific, ok := tc.Rules[factory.name]; ok {
						rule = specific
					}
					got, err := Evaluate(state, rule, WithEvaluator(evaluator))
					if err != nil {
						t.Fatalf("evaluate %q: %v", rule, err)
					}
					if !reflect.DeepEqual(got, tc.Expect) {
						t.Fatalf("rule %q: expected %v (%T), got %v (%T)", rule, tc.Expect, tc.Expect, got, got)
					}
				})
			}
		})
	}
}

func TestRuleSnapshotDerivedValues(t *testing.T) {
	snapshot, err := RuleSnapshot(roundOpenState(t))
	if err != nil {
		t.Fatalf("rule snapshot: %v", err)
	}
	if snapshot["type"] != "County" || snapshot["actor"] != "County" {
		t.Fatalf("expected actor keys, got %v / %v", snapshot["type"], snapshot["actor"])
	}
	derived, ok := snapshot["derived"].(map[string]any)
	if !ok {
		t.Fatalf("expected derived map, got %T", snapshot["derived"])
	}
	for key, want := range map[string]bool{
		"canAudit":           true,
		"auditStarted":       true,
		"auditBoardSignedIn": true,
		"canSignIn":          false,
		"deadlineMissed":     false,
		"roundsComplete":     false,
		"auditComplete":      false,
		"canRenderReport":    true,
	} {
		if derived[key] != want {
			t.Fatalf("derived %s: expected %v, got %v", key, want, derived[key])
		}
	}

	dos, err := RuleSnapshot(replay(t, ActorDOS, "dos_status.json"))
	if err != nil {
		t.Fatalf("rule snapshot: %v", err)
	}
	dosDerived := dos["derived"].(map[string]any)
	if dosDerived["allRoundsComplete"] != false {
		t.Fatalf("expected allRoundsComplete false, got %v", dosDerived["allRoundsComplete"])
	}
	if drifted, ok := dosDerived["countiesWithDrift"].([]any); !ok || len(drifted) != 0 {
		t.Fatalf("expected empty drift list, got %#v", dosDerived["countiesWithDrift"])
	}
	if _, ok := dosDerived["canAudit"]; ok {
		t.Fatalf("county queries must not be exposed for DOS")
	}
}

func TestEvaluateDefaultsToExpr(t *testing.T) {
	state := roundOpenState(t)
	got, err := Evaluate(state, `successors("County", county.asm_state)`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := []any{string(CountyAuditComplete), string(DeadlineMissed)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	got, err = Evaluate(state, `call("isTerminal", "County", county.asm_state)`)
	if err != nil || got != false {
		t.Fatalf("expected call helper to return false, got %v (%v)", got, err)
	}
}

func TestEvaluateWithArgsAndClock(t *testing.T) {
	fixed := time.Date(2026, 11, 5, 12, 0, 0, 0, time.UTC)
	state := roundOpenState(t)

	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			evaluator := factory.new(nil, nil)
			if evaluator == nil {
				t.Skipf("%s evaluator not available in this build", factory.name)
			}
			ctx := RuleContext{Args: map[string]any{"threshold": 3.0}}
			got, err := EvaluateWith(state, ctx, "county.data.current_round.ballots_remaining > args.threshold",
				WithEvaluator(evaluator), WithClock(func() time.Time { return fixed }))
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != true {
				t.Fatalf("expected true, got %v", got)
			}
		})
	}
}

func TestEvaluateContextDefaults(t *testing.T) {
	capture := &capturingEvaluator{}
	fixed := time.Date(2026, 11, 5, 12, 0, 0, 0, time.UTC)
	if _, err := Evaluate(roundOpenState(t), "true", WithEvaluator(capture), WithClock(func() time.Time { return fixed })); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(capture.contexts) != 1 {
		t.Fatalf("expected one context, got %d", len(capture.contexts))
	}
	ctx := capture.contexts[0]
	if ctx.Now == nil || !ctx.Now.Equal(fixed) {
		t.Fatalf("expected clock to fill Now, got %v", ctx.Now)
	}
	if ctx.ScopeName != "County" || ctx.Args == nil || ctx.Metadata == nil {
		t.Fatalf("unexpected defaults: %+v", ctx)
	}
	if _, ok := ctx.Snapshot.(map[string]any)["derived"]; !ok {
		t.Fatalf("expected rule snapshot, got %T", ctx.Snapshot)
	}
}

func TestEvaluatorProgramCache(t *testing.T) {
	state := roundOpenState(t)
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			cache := &fakeProgramCache{}
			evaluator := factory.new(cache, nil)
			if evaluator == nil {
				t.Skipf("%s evaluator not available in this build", factory.name)
			}
			for i := 0; i < 3; i++ {
				if _, err := Evaluate(state, "derived.canAudit", WithEvaluator(evaluator)); err != nil {
					t.Fatalf("unexpected error on iteration %d: %v", i, err)
				}
			}
			if cache.misses != 1 || cache.hits != 2 {
				t.Fatalf("expected 1 miss and 2 hits, got %d misses and %d hits", cache.misses, cache.hits)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	state := roundOpenState(t)
	if _, err := Evaluate(state, ""); err == nil {
		t.Fatalf("expected empty expression to fail")
	}

	var logged []EvaluatorLogEvent
	logger := EvaluatorLoggerFunc(func(event EvaluatorLogEvent) { logged = append(logged, event) })
	_, err := Evaluate(state, "county.asm_state +* 1", WithEvaluatorLogger(logger))
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *EvaluationError, got %T %v", err, err)
	}
	if evalErr.Engine != "expr" || evalErr.Scope != "County" || !strings.Contains(err.Error(), "+*") {
		t.Fatalf("unexpected evaluation error: %+v", evalErr)
	}
	if len(logged) != 1 || logged[0].Err == nil || logged[0].Engine != "expr" {
		t.Fatalf("expected one failed evaluation log, got %+v", logged)
	}
}

func TestNewEvaluator(t *testing.T) {
	for _, engine := range []string{"", "expr", "cel"} {
		evaluator, err := NewEvaluator(engine, NewMemoryProgramCache(), DefaultFunctionRegistry())
		if err != nil || evaluator == nil {
			t.Fatalf("engine %q: %v", engine, err)
		}
	}
	if _, err := NewEvaluator("lua", nil, nil); !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected unknown engine to fail, got %v", err)
	}
	evaluator, err := NewEvaluator("js", nil, nil)
	if jsEvaluatorAvailable() {
		if err != nil || evaluatorEngineName(evaluator) != "js" {
			t.Fatalf("expected js evaluator, got %v", err)
		}
	} else if !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected js to need the build tag, got %v", err)
	}
}

func TestCustomFunctionOption(t *testing.T) {
	state := roundOpenState(t)
	double := func(args ...any) (any, error) {
		value, ok := toInt(args[0])
		if !ok {
			return nil, errors.New("not a number")
		}
		return value * 2, nil
	}
	got, err := Evaluate(state, "double(county.data.current_round.ballots_remaining)", WithCustomFunction("double", double))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
	got, err = Evaluate(state, `isTerminal("County", "COUNTY_AUDIT_COMPLETE")`, WithCustomFunction("double", double))
	if err != nil || got != true {
		t.Fatalf("expected default helpers to stay registered, got %v (%v)", got, err)
	}
}
