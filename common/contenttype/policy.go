package contenttype

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Policy is a compiled CEL expression deciding extra allowed content types.
// The expression sees two string variables, mime and pathname, e.g.
//
//	mime.startsWith("image/") || pathname.endsWith(".wasm")
type Policy struct {
	expr string
	prg  cel.Program
}

// NewPolicy compiles expr. An empty expression yields a nil policy.
func NewPolicy(expr string) (*Policy, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("mime", cel.StringType),
		cel.Variable("pathname", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("content policy must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Policy{expr: expr, prg: prg}, nil
}

// Allows evaluates the policy for one file
func (p *Policy) Allows(mimeType, pathname string) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{
		"mime":     mimeType,
		"pathname": pathname,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}

func (p *Policy) String() string {
	return p.expr
}
