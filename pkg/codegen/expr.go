package codegen

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// compiledExpr holds a parsed expression program, so a Filter/Map step
// pays the parse cost once per pipeline compilation rather than once per
// tuple.
type compiledExpr struct {
	program *vm.Program
}

// compileExpr parses source as an expr-lang expression evaluated against a
// Record environment (field names are bare identifiers).
func compileExpr(source string) (*compiledExpr, error) {
	program, err := expr.Compile(source, expr.Env(Record{}))
	if err != nil {
		return nil, fmt.Errorf("codegen: compiling expression %q: %w", source, err)
	}
	return &compiledExpr{program: program}, nil
}

// evalBool runs the expression against rec and asserts a boolean result,
// the shape a Filter predicate requires.
func (c *compiledExpr) evalBool(rec Record) (bool, error) {
	out, err := expr.Run(c.program, rec)
	if err != nil {
		return false, fmt.Errorf("codegen: evaluating predicate: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("codegen: predicate must evaluate to bool, got %T", out)
	}
	return b, nil
}

// eval runs the expression against rec and returns its raw result, the
// shape a Map expression's output-field value takes.
func (c *compiledExpr) eval(rec Record) (any, error) {
	out, err := expr.Run(c.program, rec)
	if err != nil {
		return nil, fmt.Errorf("codegen: evaluating expression: %w", err)
	}
	return out, nil
}
