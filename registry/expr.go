package registry

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	workflow "github.com/goliatone/go-workflow"
)

// RegisterExprCondition registers a condition evaluated as a JavaScript
// expression against `$` bound to the instance state, e.g.
// `$.attempts < 3 && $.status != "settled"`. The program is compiled once
// at registration.
func (r *Registry) RegisterExprCondition(name, expr string) error {
	prog, err := compileExpr(name, expr)
	if err != nil {
		return err
	}
	return r.RegisterCondition(name, func(state workflow.State) bool {
		val, err := runExpr(prog, state)
		if err != nil {
			return false
		}
		b, ok := val.(bool)
		return ok && b
	})
}

// RegisterExprDiscriminator registers a discriminator evaluated as a
// JavaScript expression against `$` bound to the instance state.
func (r *Registry) RegisterExprDiscriminator(name, expr string) error {
	prog, err := compileExpr(name, expr)
	if err != nil {
		return err
	}
	return r.RegisterDiscriminator(name, func(state workflow.State) any {
		val, err := runExpr(prog, state)
		if err != nil {
			return nil
		}
		return val
	})
}

func compileExpr(name, expr string) (*goja.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("expression %s cannot be empty", name)
	}
	prog, err := goja.Compile(name, expr, true)
	if err != nil {
		return nil, fmt.Errorf("expression %s: %w", name, err)
	}
	return prog, nil
}

func runExpr(prog *goja.Program, state workflow.State) (any, error) {
	vm := goja.New()
	// round-trip through JSON so the script sees plain objects
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := vm.Set("$", doc); err != nil {
		return nil, err
	}
	val, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	return val.Export(), nil
}
