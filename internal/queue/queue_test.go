package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskMessage_RoundTrip(t *testing.T) {
	msg := TaskMessage{
		WorkflowExecutionID: "wf-1",
		TaskExecutionID:     "task-1",
		TaskType:            "http",
		Configuration:       map[string]interface{}{"url": "https://example.com"},
		DispatchedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded TaskMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestResultMessage_RoundTrip(t *testing.T) {
	msg := ResultMessage{
		TaskExecutionID: "task-1",
		Success:         true,
		Outputs:         map[string]interface{}{"statusCode": float64(200)},
		CompletedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded ResultMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, msg, decoded)
}
