package rla

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Function represents a callable registered against evaluators.
type Function func(args ...any) (any, error)

// FunctionRegistry stores custom functions keyed by case-insensitive name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]namedFunction
}

type namedFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]namedFunction),
	}
}

// Register stores fn under name guarding against duplicates.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("rla: function %q is nil", name)
	}
	if name == "" {
		return fmt.Errorf("rla: function name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = make(map[string]namedFunction)
	}
	key := strings.ToLower(name)
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("rla: function %q already registered", name)
	}
	r.functions[key] = namedFunction{name: name, fn: fn}
	return nil
}

// Clone returns a shallow copy of the registry.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{
		functions: make(map[string]namedFunction, len(r.functions)),
	}
	for key, entry := range r.functions {
		clone.functions[key] = entry
	}
	return clone
}

// Call executes the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("rla: function registry is nil")
	}
	r.mu.RLock()
	entry := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if entry.fn == nil {
		return nil, fmt.Errorf("rla: function %q not registered", name)
	}
	return entry.fn(args...)
}

func (r *FunctionRegistry) bound(name string) func(...any) (any, error) {
	return func(arguments ...any) (any, error) {
		return r.Call(name, arguments...)
	}
}

// Names returns registered function names, as registered, sorted
// alphabetically.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for _, entry := range r.functions {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

// WithFunctionRegistry configures the registry exposed to the default
// evaluator.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *sessionConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name, starting from the default
// registry when none is configured.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *sessionConfig) {
		if cfg.functions == nil {
			cfg.functions = DefaultFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}

// DefaultFunctionRegistry returns a registry holding the audit helpers:
// isValidTransition(actor, from, to), isTerminal(actor, state),
// successors(actor, state) and discrepancyTotal(counts).
func DefaultFunctionRegistry() *FunctionRegistry {
	registry := NewFunctionRegistry()
	_ = registry.Register("isValidTransition", func(args ...any) (any, error) {
		values, err := stringArgs("isValidTransition", 3, args)
		if err != nil {
			return nil, err
		}
		return IsValidTransition(Actor(values[0]), ASMState(values[1]), ASMState(values[2])), nil
	})
	_ = registry.Register("isTerminal", func(args ...any) (any, error) {
		values, err := stringArgs("isTerminal", 2, args)
		if err != nil {
			return nil, err
		}
		return IsTerminal(Actor(values[0]), ASMState(values[1])), nil
	})
	_ = registry.Register("successors", func(args ...any) (any, error) {
		values, err := stringArgs("successors", 2, args)
		if err != nil {
			return nil, err
		}
		states := Successors(Actor(values[0]), ASMState(values[1]))
		out := make([]any, 0, len(states))
		for _, state := range states {
			out = append(out, string(state))
		}
		return out, nil
	})
	_ = registry.Register("discrepancyTotal", func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("rla: discrepancyTotal expects 1 argument, got %d", len(args))
		}
		raw, ok := args[0].(map[string]any)
		if !ok {
			if args[0] == nil {
				return 0, nil
			}
			return nil, fmt.Errorf("rla: discrepancyTotal expects a map, got %T", args[0])
		}
		counts := DiscrepancyCount{}
		for key, value := range raw {
			kind, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			number, ok := toInt(value)
			if !ok {
				return nil, fmt.Errorf("rla: discrepancyTotal count %q is %T", key, value)
			}
			counts[DiscrepancyType(kind)] = number
		}
		return DiscrepancyTotal(counts), nil
	})
	return registry
}

func stringArgs(name string, want int, args []any) ([]string, error) {
	if len(args) != want {
		return nil, fmt.Errorf("rla: %s expects %d arguments, got %d", name, want, len(args))
	}
	out := make([]string, len(args))
	for i, arg := range args {
		value, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("rla: %s argument %d must be string, got %T", name, i+1, arg)
		}
		out[i] = value
	}
	return out, nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
