package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := New(true)
	_, ch := b.Subscribe()

	b.Publish(Event{Kind: KindWorkflowStarted, WorkflowExecutionID: "wf-1"})

	select {
	case ev := <-ch:
		assert.Equal(t, KindWorkflowStarted, ev.Kind)
		assert.Equal(t, "wf-1", ev.WorkflowExecutionID)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublish_DisabledBusIsNoOp(t *testing.T) {
	b := New(false)
	_, ch := b.Subscribe()

	b.Publish(Event{Kind: KindWorkflowStarted})

	select {
	case <-ch:
		t.Fatal("expected no event when bus disabled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_NeverBlocksOnFullSubscriber(t *testing.T) {
	b := New(true)
	_, ch := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize+10; i++ {
			b.Publish(Event{Kind: KindTaskCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber queue")
	}

	require.Len(t, ch, subscriberQueueSize)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New(true)
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
}
