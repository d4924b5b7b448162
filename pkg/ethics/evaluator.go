package ethics

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// exprEvaluator compiles and caches CEL programs for axiom expressions.
// Expressions see the variables `phase` (string) and `context` (the audit's
// evaluation context) and must yield a bool.
type exprEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func newExprEvaluator() (*exprEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("phase", cel.StringType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &exprEvaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

func (e *exprEvaluator) evaluate(expr, phase string, evalCtx map[string]any) (bool, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		if prg, hit = e.prgCache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.prgCache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	if evalCtx == nil {
		evalCtx = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"phase":   phase,
		"context": evalCtx,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
