package rla

import (
	"encoding/json"
	"fmt"
	"time"
)

// Evaluate runs expression over the rule snapshot of state. Without
// WithEvaluator the expr engine is used, with the default function registry
// unless WithFunctionRegistry supplies another one.
func Evaluate(state AppState, expression string, opts ...Option) (any, error) {
	return evaluateWith(applyOptions(opts), state, RuleContext{}, expression)
}

// EvaluateWith is Evaluate with caller supplied args, metadata and clock. A
// nil ctx.Snapshot is filled with the rule snapshot of state.
func EvaluateWith(state AppState, ctx RuleContext, expression string, opts ...Option) (any, error) {
	return evaluateWith(applyOptions(opts), state, ctx, expression)
}

func evaluateWith(cfg sessionConfig, state AppState, ctx RuleContext, expression string) (any, error) {
	if expression == "" {
		return nil, fmt.Errorf("rla: expression must not be empty")
	}
	evaluator, err := resolveEvaluator(cfg)
	if err != nil {
		return nil, err
	}
	if ctx.Snapshot == nil {
		snapshot, err := RuleSnapshot(state)
		if err != nil {
			return nil, err
		}
		ctx.Snapshot = snapshot
	}
	if ctx.ScopeName == "" {
		ctx.ScopeName = string(state.Actor)
	}
	if ctx.Now == nil && cfg.now != nil {
		now := cfg.now()
		ctx.Now = &now
	}
	ctx = ctx.withDefaults()

	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expression)
	evalErr = wrapEvaluationError(engine, expression, ctx.scopeLabel(), evalErr)
	cfg.evaluatorLogger().LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expression,
		Scope:    ctx.scopeLabel(),
		Duration: time.Since(start),
		Err:      evalErr,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return value, nil
}

// RuleSnapshot converts state into the loosely typed tree expressions see:
// the JSON form of state plus a "derived" map with the query layer results.
// The actor kind is repeated under "actor" for engines that reserve "type".
func RuleSnapshot(state AppState) (map[string]any, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("rla: rule snapshot: %w", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("rla: rule snapshot: %w", err)
	}

	derived := map[string]any{
		"auditComplete":   IsAuditComplete(state),
		"canRenderReport": CanRenderReport(state),
	}
	switch state.Actor {
	case ActorCounty:
		derived["canAudit"] = CanAudit(state)
		derived["auditStarted"] = AuditStarted(state)
		derived["auditBoardSignedIn"] = AuditBoardSignedIn(state)
		derived["canSignIn"] = CanSignIn(state)
		derived["deadlineMissed"] = IsDeadlineMissed(state)
		derived["roundsComplete"] = RoundsComplete(state)
	case ActorDOS:
		if state.DOS != nil {
			derived["allRoundsComplete"] = AllRoundsComplete(state.DOS.Data.CountyStatus)
		}
		drifted := []any{}
		for _, id := range CountiesWithDrift(state) {
			drifted = append(drifted, id)
		}
		derived["countiesWithDrift"] = drifted
	}
	snapshot["actor"] = string(state.Actor)
	snapshot["derived"] = derived
	return snapshot, nil
}

func resolveEvaluator(cfg sessionConfig) (Evaluator, error) {
	if cfg.evaluator != nil {
		return cfg.evaluator, nil
	}
	registry := cfg.functions
	if registry == nil {
		registry = DefaultFunctionRegistry()
	}
	exprOpts := []ExprEvaluatorOption{ExprWithFunctionRegistry(registry)}
	if cfg.programCache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(cfg.programCache))
	}
	evaluator := NewExprEvaluator(exprOpts...)
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	return evaluator, nil
}

// NewEvaluator builds an evaluator by engine name: "expr", "cel" or "js".
// The js engine requires the js_eval build tag.
func NewEvaluator(engine string, cache ProgramCache, registry *FunctionRegistry) (Evaluator, error) {
	switch engine {
	case "", "expr":
		return NewExprEvaluator(ExprWithProgramCache(cache), ExprWithFunctionRegistry(registry)), nil
	case "cel":
		return NewCELEvaluator(CELWithProgramCache(cache), CELWithFunctionRegistry(registry)), nil
	case "js":
		if !jsEvaluatorAvailable() {
			return nil, fmt.Errorf("%w: js engine needs the js_eval build tag", ErrNoEvaluator)
		}
		return NewJSEvaluator(JSWithProgramCache(cache), JSWithFunctionRegistry(registry)), nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrNoEvaluator, engine)
	}
}

func evaluatorEngineName(e Evaluator) string {
	switch e.(type) {
	case nil:
		return "unknown"
	case *exprEvaluator:
		return "expr"
	case *celEvaluator:
		return "cel"
	default:
		if fmt.Sprintf("%T", e) == "*rla.jsEvaluator" {
			return "js"
		}
		return "custom"
	}
}

// ruleEnvironment flattens ctx into the variables every engine exposes.
func ruleEnvironment(ctx RuleContext, registry *FunctionRegistry) map[string]any {
	env := map[string]any{
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
	}
	for key, value := range snapshotAsMap(ctx.Snapshot) {
		env[key] = value
	}
	if registry != nil {
		env["call"] = func(name string, arguments ...any) (any, error) {
			return registry.Call(name, arguments...)
		}
	}
	return env
}

func snapshotAsMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
