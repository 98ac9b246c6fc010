//go:build js_eval

package rla

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewJSEvaluator constructs an Evaluator backed by goja. Each evaluation runs
// in a fresh runtime.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	cfg := newJSRuleConfig(opts)
	return &jsEvaluator{
		cache:    cfg.cache,
		registry: cfg.registry,
	}
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError("js", fmt.Errorf("expression must not be empty"))
	}
	if cached, ok := lookupProgram[*goja.Program](e.cache, expression); ok {
		return &jsCompiledRule{evaluator: e, expression: expression, program: cached}, nil
	}
	program, err := goja.Compile("rule", fmt.Sprintf("(function(){ return (%s); })()", expression), false)
	if err != nil {
		return nil, wrapEvaluationError("js", expression, "", err)
	}
	storeProgram(e.cache, expression, program)
	return &jsCompiledRule{evaluator: e, expression: expression, program: program}, nil
}

type jsCompiledRule struct {
	evaluator  *jsEvaluator
	expression string
	program    *goja.Program
}

func (r *jsCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil || r.program == nil {
		return nil, wrapEvaluatorError("js", fmt.Errorf("compiled rule missing program"))
	}
	ctx = ctx.withDefaults()
	vm := goja.New()
	for key, value := range ruleEnvironment(ctx, r.evaluator.registry) {
		if err := vm.Set(key, value); err != nil {
			return nil, wrapEvaluationError("js", r.expression, ctx.scopeLabel(), err)
		}
	}
	for _, name := range r.evaluator.registry.Names() {
		if err := vm.Set(name, r.evaluator.registry.bound(name)); err != nil {
			return nil, wrapEvaluationError("js", r.expression, ctx.scopeLabel(), err)
		}
	}
	value, err := vm.RunProgram(r.program)
	if err != nil {
		return nil, wrapEvaluationError("js", r.expression, ctx.scopeLabel(), err)
	}
	return value.Export(), nil
}

func jsEvaluatorAvailable() bool {
	return true
}
