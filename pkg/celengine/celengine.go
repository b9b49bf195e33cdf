package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Engine compiles boolean CEL expressions against a fixed variable set and
// caches the resulting programs by expression text.
type Engine struct {
	env      *cel.Env
	programs sync.Map
}

// Variable declares an input available to expressions.
type Variable struct {
	Name string
	Type *cel.Type
}

func New(vars ...Variable) (*Engine, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v.Name, v.Type))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}

	return &Engine{env: env}, nil
}

// Validate compiles expr and checks that it yields a bool.
func (e *Engine) Validate(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Engine) program(expr string) (cel.Program, error) {
	if v, ok := e.programs.Load(expr); ok {
		return v.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}

	e.programs.Store(expr, prg)
	return prg, nil
}

// Evaluate runs expr with attrs and returns its boolean result.
func (e *Engine) Evaluate(expr string, attrs map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}
