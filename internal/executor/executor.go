// Package executor implements the task executor registry and contract:
// pluggable handlers keyed by task type, validated against a JSON Schema
// before dispatch and generalized over the execution context's variable
// substitution.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aosanya/workflowforge/internal/execctx"
)

var (
	// ErrNotFound is returned when no executor is registered for a task type.
	ErrNotFound = errors.New("executor: no executor registered for task type")
	// ErrAlreadyRegistered is returned by Register on a duplicate task type.
	ErrAlreadyRegistered = errors.New("executor: task type already registered")
)

// ValidationError marks a configuration failure as terminal: the task
// execution service must not retry it.
type ValidationError struct {
	TaskType string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("executor: invalid configuration for task type %q: %v", e.TaskType, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExecutorError wraps any other executor failure. It is retriable by the
// task state machine.
type ExecutorError struct {
	TaskType string
	Err      error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor: %q failed: %v", e.TaskType, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// Definition is the subset of a task definition an executor needs to run:
// its type and its (not-yet-substituted) configuration.
type Definition struct {
	TaskType      string
	Configuration map[string]interface{}
}

// Executor is the capability contract every task-type handler implements.
type Executor interface {
	TaskType() string
	Execute(ctx context.Context, def Definition, ec *execctx.Context) (map[string]interface{}, error)
}

// SchemaValidator validates a task type's configuration; satisfied by
// internal/executor/schema.Validator. Kept as an interface so the registry
// doesn't need to import the schema package's gojsonschema dependency
// directly.
type SchemaValidator interface {
	Validate(taskType string, configuration map[string]interface{}) error
}

// Registry holds the set of known executors and dispatches to them,
// performing variable substitution and schema validation around every call.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	validator SchemaValidator
}

// NewRegistry returns an empty registry. A nil validator disables
// configuration schema validation (useful in tests).
func NewRegistry(validator SchemaValidator) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		validator: validator,
	}
}

// Register adds an executor for its declared task type.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return errors.New("executor: cannot register nil executor")
	}
	taskType := e.TaskType()
	if taskType == "" {
		return errors.New("executor: task type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[taskType]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, taskType)
	}
	r.executors[taskType] = e
	return nil
}

// Get returns the executor registered for taskType.
func (r *Registry) Get(taskType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.executors[taskType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskType)
	}
	return e, nil
}

// TaskTypes lists every registered task type.
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// Dispatch validates and substitutes def.Configuration, invokes the
// registered executor, and stamps the conventional executionTimestamp
// output field. Any configuration failure is returned as *ValidationError
// (terminal); any other executor failure as *ExecutorError (retriable).
func (r *Registry) Dispatch(ctx context.Context, def Definition, ec *execctx.Context) (map[string]interface{}, error) {
	e, err := r.Get(def.TaskType)
	if err != nil {
		return nil, &ValidationError{TaskType: def.TaskType, Err: err}
	}

	if r.validator != nil {
		if err := r.validator.Validate(def.TaskType, def.Configuration); err != nil {
			return nil, &ValidationError{TaskType: def.TaskType, Err: err}
		}
	}

	substituted := def
	if ec != nil {
		substituted.Configuration = ec.InterpolateConfig(def.Configuration)
	}

	outputs, err := e.Execute(ctx, substituted, ec)
	if err != nil {
		var valErr *ValidationError
		if errors.As(err, &valErr) {
			return nil, err
		}
		return nil, &ExecutorError{TaskType: def.TaskType, Err: err}
	}

	if outputs == nil {
		outputs = make(map[string]interface{})
	}
	outputs["executionTimestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return outputs, nil
}
