package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/workflowforge/internal/execctx"
)

func TestRegistry_RegisterAndDispatchEcho(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewEchoExecutor()))

	ec := execctx.New(map[string]string{"name": "world"})
	outputs, err := reg.Dispatch(context.Background(), Definition{
		TaskType:      "echo",
		Configuration: map[string]interface{}{"message": "hello ${name}"},
	}, ec)

	require.NoError(t, err)
	assert.Equal(t, "hello world", outputs["message"])
	assert.Equal(t, true, outputs["success"])
	assert.NotEmpty(t, outputs["executionTimestamp"])
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewEchoExecutor()))
	err := reg.Register(NewEchoExecutor())
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistry_DispatchUnknownTaskTypeIsValidationError(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Dispatch(context.Background(), Definition{TaskType: "nope"}, execctx.New(nil))

	var valErr *ValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestRegistry_SchemaValidationFailureIsTerminal(t *testing.T) {
	reg := NewRegistry(rejectingValidator{})
	require.NoError(t, reg.Register(NewEchoExecutor()))

	_, err := reg.Dispatch(context.Background(), Definition{TaskType: "echo"}, execctx.New(nil))
	var valErr *ValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestDelayExecutor_MissingDurationIsValidationError(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewDelayExecutor()))

	_, err := reg.Dispatch(context.Background(), Definition{TaskType: "delay"}, execctx.New(nil))
	var valErr *ValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestDelayExecutor_CompletesAfterDuration(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewDelayExecutor()))

	outputs, err := reg.Dispatch(context.Background(), Definition{
		TaskType:      "delay",
		Configuration: map[string]interface{}{"durationMs": float64(5)},
	}, execctx.New(nil))

	require.NoError(t, err)
	assert.Equal(t, true, outputs["success"])
}

func TestDelayExecutor_HonorsCancellation(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewDelayExecutor()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Dispatch(ctx, Definition{
		TaskType:      "delay",
		Configuration: map[string]interface{}{"durationMs": float64(5000)},
	}, execctx.New(nil))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPExecutor_NonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewHTTPExecutor(nil)))

	outputs, err := reg.Dispatch(context.Background(), Definition{
		TaskType:      "http",
		Configuration: map[string]interface{}{"url": server.URL, "method": "GET"},
	}, execctx.New(nil))

	require.NoError(t, err)
	assert.Equal(t, false, outputs["success"])
	assert.Equal(t, 500, outputs["statusCode"])
}

func TestHTTPExecutor_SuccessParsesJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(NewHTTPExecutor(nil)))

	outputs, err := reg.Dispatch(context.Background(), Definition{
		TaskType:      "http",
		Configuration: map[string]interface{}{"url": server.URL, "method": "GET"},
	}, execctx.New(nil))

	require.NoError(t, err)
	assert.Equal(t, true, outputs["success"])
	body := outputs["body"].(map[string]interface{})
	assert.Equal(t, true, body["ok"])
}

type rejectingValidator struct{}

func (rejectingValidator) Validate(taskType string, configuration map[string]interface{}) error {
	return errors.New("always rejects")
}
