// Package execctx implements the execution context: a mutable, concurrency
// safe variable bag scoped to one workflow execution, and the `${name}`
// substitution applied to task configuration before dispatch.
package execctx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Context is a string-keyed variable bag seeded from a workflow execution's
// variables and updated as tasks complete. Safe for concurrent use since
// Parallel strategy tasks may merge outputs from multiple goroutines.
type Context struct {
	mu   sync.RWMutex
	vars map[string]string
}

// New returns a Context seeded from the given variables. A nil map yields an
// empty context.
func New(seed map[string]string) *Context {
	vars := make(map[string]string, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &Context{vars: vars}
}

// Get returns the value for name and whether it is present.
func (c *Context) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

// Set assigns value to name.
func (c *Context) Set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Merge writes every entry of outputs into the context, overwriting existing
// keys. Used to fold a completed task's outputs into the running execution.
func (c *Context) Merge(outputs map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range outputs {
		c.vars[k] = v
	}
}

// Snapshot returns a copy of the current variable map.
func (c *Context) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// SetParsedResponse marshals v to JSON and stores it under the conventional
// "parsedResponse" key so later tasks can substitute fields out of a prior
// executor's structured response.
func (c *Context) SetParsedResponse(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal parsed response: %w", err)
	}
	c.Set("parsedResponse", string(raw))
	return nil
}

// ParsedResponse unmarshals the "parsedResponse" key into dest, if present.
func (c *Context) ParsedResponse(dest interface{}) (bool, error) {
	raw, ok := c.Get("parsedResponse")
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return true, fmt.Errorf("unmarshal parsed response: %w", err)
	}
	return true, nil
}

// Interpolate replaces every ${name} occurrence in s with the context's
// value for name. Placeholders with no matching variable are left literal,
// so a typo surfaces downstream rather than silently producing an empty
// string.
func (c *Context) Interpolate(s string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := c.vars[name]; ok {
			return v
		}
		return match
	})
}

// InterpolateConfig applies Interpolate to every string value in config,
// recursing into nested maps and slices. Non-string leaves pass through
// unchanged. Used to substitute variables into a task definition's
// configuration map before it reaches an executor.
func (c *Context) InterpolateConfig(config map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = c.interpolateValue(v)
	}
	return out
}

func (c *Context) interpolateValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return c.Interpolate(val)
	case map[string]interface{}:
		return c.InterpolateConfig(val)
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = c.interpolateValue(item)
		}
		return result
	default:
		return v
	}
}
