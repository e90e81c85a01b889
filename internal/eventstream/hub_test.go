package eventstream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/workflowforge/internal/eventbus"
)

func TestHubBroadcastsToMatchingCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	events := eventbus.New(true)
	hub := New(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws/events/:correlationId", hub.ServeWS)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events/corr-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	events.Publish(eventbus.Event{
		Kind:                eventbus.KindWorkflowCompleted,
		WorkflowExecutionID: "wf-1",
		CorrelationID:       "corr-1",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), "WORKFLOW_COMPLETED")
}
