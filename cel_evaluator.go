package rla

import (
	"fmt"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. Snapshot keys are
// declared as dynamic variables, so programs are cached per expression and
// variable set.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *celEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("expression must not be empty"))
	}
	return &celCompiledRule{evaluator: e, expression: expression}, nil
}

func (e *celEvaluator) program(expression string, variables []string) (celgo.Program, error) {
	key := expression + "\x00" + strings.Join(variables, ",")
	if cached, ok := lookupProgram[celgo.Program](e.cache, key); ok {
		return cached, nil
	}

	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
		celgo.Variable("scope", celgo.StringType),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call", e.callOverloads()...))
	}
	for _, name := range variables {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	storeProgram(e.cache, key, prg)
	return prg, nil
}

type celCompiledRule struct {
	evaluator  *celEvaluator
	expression string
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("compiled rule missing evaluator"))
	}
	ctx = ctx.withDefaults()
	snapshot := snapshotAsMap(ctx.Snapshot)
	prg, err := r.evaluator.program(r.expression, snapshotVariables(snapshot))
	if err != nil {
		return nil, wrapEvaluationError("cel", r.expression, ctx.scopeLabel(), err)
	}
	activation := ruleEnvironment(ctx, nil)
	activation["scope"] = ctx.scopeLabel()
	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, wrapEvaluationError("cel", r.expression, ctx.scopeLabel(), err)
	}
	return out.Value(), nil
}

// celReserved holds names CEL already declares or reserves; snapshot keys
// with these names are not exposed (the actor is also available as "actor").
var celReserved = map[string]struct{}{
	"now": {}, "args": {}, "metadata": {}, "scope": {}, "call": {},
	"bool": {}, "bytes": {}, "double": {}, "dyn": {}, "int": {}, "list": {}, "map": {},
	"null_type": {}, "string": {}, "type": {}, "uint": {},
	"in": {}, "as": {}, "break": {}, "const": {}, "continue": {}, "else": {}, "for": {},
	"function": {}, "if": {}, "import": {}, "let": {}, "loop": {}, "package": {},
	"namespace": {}, "return": {}, "var": {}, "void": {}, "while": {},
	"true": {}, "false": {}, "null": {},
}

func snapshotVariables(snapshot map[string]any) []string {
	names := make([]string, 0, len(snapshot))
	for key := range snapshot {
		if _, reserved := celReserved[key]; reserved {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// callOverloads declares call(name, ...) for up to three arguments; CEL has
// no variadic functions.
func (e *celEvaluator) callOverloads() []celgo.FunctionOpt {
	binding := celgo.FunctionBinding(e.call)
	params := []*celgo.Type{celgo.StringType}
	ids := []string{"call_string"}
	overloads := make([]celgo.FunctionOpt, 0, 4)
	for arity := 0; arity <= 3; arity++ {
		if arity > 0 {
			params = append(params, celgo.DynType)
			ids = append(ids, "dyn")
		}
		argTypes := append([]*celgo.Type{}, params...)
		overloads = append(overloads, celgo.Overload(strings.Join(ids, "_"), argTypes, celgo.DynType, binding))
	}
	return overloads
}

func (e *celEvaluator) call(values ...ref.Val) ref.Val {
	if len(values) == 0 {
		return types.NewErr("rla: call requires function name")
	}
	name, ok := values[0].Value().(string)
	if !ok {
		return types.NewErr("rla: call name must be string")
	}
	args := make([]any, 0, len(values)-1)
	for _, val := range values[1:] {
		args = append(args, val.Value())
	}
	result, err := e.registry.Call(name, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}
