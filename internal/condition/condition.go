// Package condition evaluates a workflow task's conditional expression
// against the current execution context using a sandboxed JavaScript VM.
package condition

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/aosanya/workflowforge/internal/execctx"
)

// defaultTimeout bounds a single evaluation; expressions here are boolean
// guards, not long-running scripts.
const defaultTimeout = 2 * time.Second

// Evaluator runs conditional expressions. Each call gets its own goja.Runtime
// instance; goja.Runtime is not safe for concurrent use, so strategies must
// not share one across goroutines.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator returns an Evaluator with the default timeout.
func NewEvaluator() *Evaluator {
	return &Evaluator{timeout: defaultTimeout}
}

// Evaluate runs expression as a JavaScript boolean expression, exposing the
// context's variables under the global `vars` object, and returns its truthy
// result. A non-boolean result is coerced with goja's ToBoolean semantics.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, ec *execctx.Context) (bool, error) {
	if expression == "" {
		return true, nil
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vm := goja.New()
	if err := setupSandbox(vm, ec); err != nil {
		return false, fmt.Errorf("setup condition sandbox: %w", err)
	}

	wrapped := fmt.Sprintf("(function() { return Boolean(%s); })()", expression)

	resultCh := make(chan goja.Value, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("panic evaluating condition: %v", r)
			}
		}()
		result, err := vm.RunString(wrapped)
		if err != nil {
			errCh <- fmt.Errorf("evaluate condition: %w", err)
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result.ToBoolean(), nil
	case err := <-errCh:
		return false, err
	case <-evalCtx.Done():
		return false, fmt.Errorf("condition evaluation timed out: %w", evalCtx.Err())
	}
}

func setupSandbox(vm *goja.Runtime, ec *execctx.Context) error {
	vm.Set("require", goja.Undefined())
	vm.Set("import", goja.Undefined())
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())

	vars := vm.NewObject()
	if ec != nil {
		for k, v := range ec.Snapshot() {
			if err := vars.Set(k, v); err != nil {
				return err
			}
		}
	}
	return vm.Set("vars", vars)
}
