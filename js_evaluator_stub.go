//go:build !js_eval

package rla

// NewJSEvaluator returns nil in builds without the js_eval tag. NewEvaluator
// reports ErrNoEvaluator for the "js" engine in that case.
func NewJSEvaluator(...JSEvaluatorOption) Evaluator {
	return nil
}

func jsEvaluatorAvailable() bool { return false }
