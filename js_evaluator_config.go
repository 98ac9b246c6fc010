package rla

// JSEvaluatorOption configures the goja rule evaluator. Options are accepted
// in every build so callers compile with or without the js_eval tag.
type JSEvaluatorOption func(*jsRuleConfig)

type jsRuleConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// JSWithProgramCache reuses compiled rule scripts across dashboard snapshots.
func JSWithProgramCache(cache ProgramCache) JSEvaluatorOption {
	return func(cfg *jsRuleConfig) {
		cfg.cache = cache
	}
}

// JSWithFunctionRegistry exposes registry helpers such as isValidTransition
// to rule scripts. The registry is cloned; later registrations on the
// caller's copy are not visible to the evaluator.
func JSWithFunctionRegistry(registry *FunctionRegistry) JSEvaluatorOption {
	return func(cfg *jsRuleConfig) {
		if registry != nil {
			cfg.registry = registry.Clone()
		}
	}
}

func newJSRuleConfig(opts []JSEvaluatorOption) jsRuleConfig {
	var cfg jsRuleConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
