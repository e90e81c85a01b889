// Package schema validates task executor configuration against a JSON Schema
// compiled per task type.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Validator compiles and caches one gojsonschema.Schema per task type.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewValidator returns an empty Validator. Task types with no registered
// schema pass validation unconditionally.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles rawSchema (JSON Schema as a Go value, typically a
// map[string]interface{}) for taskType.
func (v *Validator) Register(taskType string, rawSchema interface{}) error {
	raw, err := json.Marshal(rawSchema)
	if err != nil {
		return fmt.Errorf("marshal schema for %q: %w", taskType, err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", taskType, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[taskType] = compiled
	return nil
}

// Validate checks configuration against the schema registered for taskType.
// Task types with no registered schema are always valid.
func (v *Validator) Validate(taskType string, configuration map[string]interface{}) error {
	v.mu.RLock()
	compiled, ok := v.schemas[taskType]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	raw, err := json.Marshal(configuration)
	if err != nil {
		return fmt.Errorf("marshal configuration for %q: %w", taskType, err)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate configuration for %q: %w", taskType, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}
