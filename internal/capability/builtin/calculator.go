package builtin

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/fyrsmithlabs/agentd/internal/capability"
)

// evalTimeout bounds a single expression evaluation. The interpreter
// cannot be preempted mid-eval, so a runaway expression is abandoned
// rather than interrupted.
const evalTimeout = 5 * time.Second

// mathPrelude exposes the names an arithmetic expression may use. The
// evaluation namespace is restricted to these plus the math package.
const mathPrelude = `import "math"
sqrt := math.Sqrt
sin := math.Sin
cos := math.Cos
tan := math.Tan
pi := math.Pi
e := math.E
_, _, _, _, _, _ = sqrt, sin, cos, tan, pi, e
`

type calcResult struct {
	Result     any    `json:"result"`
	Expression string `json:"expression"`
	Status     string `json:"status"`
}

type calcError struct {
	Error      string `json:"error"`
	Expression string `json:"expression"`
	Status     string `json:"status"`
}

func calculateDescriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "calculate",
		Description: "Evaluate a mathematical expression and return the result. Supports arithmetic operators and the functions sqrt, sin, cos, tan plus the constants pi and e.",
		Parameters: map[string]capability.Param{
			"expression": {
				Type:        "string",
				Description: "The mathematical expression to evaluate, e.g. '2 + 3 * 5' or 'sqrt(16.0)'",
			},
		},
		Required: []string{"expression"},
	}
}

// Calculate evaluates an arithmetic expression in an embedded
// interpreter. Evaluation failures are returned as error-status
// results, not as handler errors, so the model sees what went wrong.
func Calculate(ctx context.Context, args map[string]any) (any, error) {
	expr, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	if err := validateExpression(expr); err != nil {
		return calcError{Error: err.Error(), Expression: expr, Status: "error"}, nil
	}

	val, err := evalExpression(ctx, expr)
	if err != nil {
		return calcError{Error: err.Error(), Expression: expr, Status: "error"}, nil
	}
	return calcResult{Result: val, Expression: expr, Status: "success"}, nil
}

func validateExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return errors.New("expression is empty")
	}
	for _, tok := range []string{";", "import", "package", "func", "go ", "`"} {
		if strings.Contains(expr, tok) {
			return fmt.Errorf("unsupported token in expression: %q", tok)
		}
	}
	return nil
}

type evalOutcome struct {
	val reflect.Value
	err error
}

func evalExpression(ctx context.Context, expr string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("initializing interpreter: %w", err)
	}
	if _, err := i.Eval(mathPrelude); err != nil {
		return nil, fmt.Errorf("initializing interpreter: %w", err)
	}

	done := make(chan evalOutcome, 1)
	go func() {
		v, err := i.Eval(expr)
		done <- evalOutcome{val: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("evaluating expression: %w", out.err)
		}
		if !out.val.IsValid() {
			return nil, errors.New("expression produced no value")
		}
		return out.val.Interface(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("evaluating expression: %w", ctx.Err())
	}
}

type factorialResult struct {
	Result *big.Int `json:"result"`
	Input  int      `json:"input"`
	Status string   `json:"status"`
}

type factorialError struct {
	Error  string `json:"error"`
	Input  int    `json:"input"`
	Status string `json:"status"`
}

func factorialDescriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "factorial",
		Description: "Compute the factorial of a non-negative integer n.",
		Parameters: map[string]capability.Param{
			"n": {
				Type:        "integer",
				Description: "The n parameter, a non-negative integer",
			},
		},
		Required: []string{"n"},
	}
}

// Factorial computes n! with arbitrary precision. Negative input is an
// error-status result rather than a handler error.
func Factorial(_ context.Context, args map[string]any) (any, error) {
	n, err := intArg(args, "n")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return factorialError{
			Error:  "factorial is only defined for non-negative integers",
			Input:  n,
			Status: "error",
		}, nil
	}
	r := new(big.Int).MulRange(1, int64(n))
	return factorialResult{Result: r, Input: n, Status: "success"}, nil
}
