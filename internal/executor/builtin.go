package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/queue"
)

// EchoExecutor returns its (already variable-substituted) configuration
// verbatim as outputs. Used in tests and as a workflow no-op step.
type EchoExecutor struct{}

// NewEchoExecutor returns an EchoExecutor.
func NewEchoExecutor() *EchoExecutor { return &EchoExecutor{} }

// TaskType implements Executor.
func (e *EchoExecutor) TaskType() string { return "echo" }

// Execute implements Executor.
func (e *EchoExecutor) Execute(ctx context.Context, def Definition, _ *execctx.Context) (map[string]interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	outputs := make(map[string]interface{}, len(def.Configuration)+1)
	for k, v := range def.Configuration {
		outputs[k] = v
	}
	outputs["success"] = true
	return outputs, nil
}

// HTTPExecutor issues an HTTP request built from the task configuration.
// Per the non-2xx handling rule, a non-2xx response is not a Go error: it
// comes back as {success:false, statusCode, error} and the calling strategy
// treats the task as COMPLETED, not FAILED.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor returns an HTTPExecutor using client, or a 30s-timeout
// default client when client is nil.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

// TaskType implements Executor.
func (e *HTTPExecutor) TaskType() string { return "http" }

// Execute implements Executor.
func (e *HTTPExecutor) Execute(ctx context.Context, def Definition, _ *execctx.Context) (map[string]interface{}, error) {
	url, _ := def.Configuration["url"].(string)
	method, _ := def.Configuration["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	headers, _ := def.Configuration["headers"].(map[string]interface{})
	body, _ := def.Configuration["body"].(string)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read http response: %w", err)
	}

	var parsed interface{}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = string(respBody)
	}

	outputs := map[string]interface{}{
		"statusCode": resp.StatusCode,
		"body":       parsed,
		"url":        url,
		"method":     method,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outputs["success"] = false
		outputs["error"] = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	} else {
		outputs["success"] = true
	}

	return outputs, nil
}

// DelayExecutor sleeps for configuration["durationMs"], honoring context
// cancellation/timeout.
type DelayExecutor struct{}

// NewDelayExecutor returns a DelayExecutor.
func NewDelayExecutor() *DelayExecutor { return &DelayExecutor{} }

// TaskType implements Executor.
func (e *DelayExecutor) TaskType() string { return "delay" }

// Execute implements Executor.
func (e *DelayExecutor) Execute(ctx context.Context, def Definition, _ *execctx.Context) (map[string]interface{}, error) {
	durationMs, err := numberFrom(def.Configuration["durationMs"])
	if err != nil {
		return nil, &ValidationError{TaskType: e.TaskType(), Err: err}
	}

	timer := time.NewTimer(time.Duration(durationMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]interface{}{"success": true, "durationMs": durationMs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func numberFrom(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("missing or non-numeric durationMs")
	}
}

// QueuePublishExecutor is a QUEUED-mode executor stub: it publishes the task
// directly onto the task-dispatch queue for an external worker and returns
// immediately. Used by task definitions whose executionMode is QUEUED and
// whose task type has no LOCAL handler; the real result arrives later via
// the async result ingress rather than through this call's return value.
type QueuePublishExecutor struct {
	queue *queue.Client
}

// NewQueuePublishExecutor returns a QueuePublishExecutor publishing through q.
func NewQueuePublishExecutor(q *queue.Client) *QueuePublishExecutor {
	return &QueuePublishExecutor{queue: q}
}

// TaskType implements Executor.
func (e *QueuePublishExecutor) TaskType() string { return "queue.publish" }

// Execute implements Executor.
func (e *QueuePublishExecutor) Execute(ctx context.Context, def Definition, _ *execctx.Context) (map[string]interface{}, error) {
	taskExecutionID, _ := def.Configuration["taskExecutionId"].(string)
	workflowExecutionID, _ := def.Configuration["workflowExecutionId"].(string)
	queuedTaskType, _ := def.Configuration["queuedTaskType"].(string)

	if taskExecutionID == "" || workflowExecutionID == "" || queuedTaskType == "" {
		return nil, &ValidationError{
			TaskType: e.TaskType(),
			Err:      fmt.Errorf("taskExecutionId, workflowExecutionId, and queuedTaskType are required"),
		}
	}

	msg := queue.TaskMessage{
		WorkflowExecutionID: workflowExecutionID,
		TaskExecutionID:     taskExecutionID,
		TaskType:            queuedTaskType,
		Configuration:       def.Configuration,
		DispatchedAt:        time.Now().UTC(),
	}

	if err := e.queue.PublishTask(msg); err != nil {
		return nil, fmt.Errorf("publish queued task: %w", err)
	}

	return map[string]interface{}{"success": true, "queued": true}, nil
}
