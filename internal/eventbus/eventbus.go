// Package eventbus implements fire-and-forget publication of workflow
// lifecycle events to any number of subscribers, using per-subscriber
// buffered channels so a slow subscriber can never block a publisher.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Kind identifies the lifecycle transition an Event reports.
type Kind string

const (
	KindWorkflowCreated       Kind = "WORKFLOW_CREATED"
	KindWorkflowStarted       Kind = "WORKFLOW_STARTED"
	KindWorkflowCompleted     Kind = "WORKFLOW_COMPLETED"
	KindWorkflowFailed        Kind = "WORKFLOW_FAILED"
	KindWorkflowPaused        Kind = "WORKFLOW_PAUSED"
	KindWorkflowResumed       Kind = "WORKFLOW_RESUMED"
	KindWorkflowCancelled     Kind = "WORKFLOW_CANCELLED"
	KindWorkflowRetry         Kind = "WORKFLOW_RETRY"
	KindWorkflowStatusChanged Kind = "WORKFLOW_STATUS_CHANGED"

	KindTaskCreated        Kind = "TASK_CREATED"
	KindTaskStarted        Kind = "TASK_STARTED"
	KindTaskCompleted      Kind = "TASK_COMPLETED"
	KindTaskFailed         Kind = "TASK_FAILED"
	KindTaskSkipped        Kind = "TASK_SKIPPED"
	KindTaskRetryScheduled Kind = "TASK_RETRY_SCHEDULED"

	KindUserReviewRequested Kind = "USER_REVIEW_REQUESTED"
	KindUserReviewSubmitted Kind = "USER_REVIEW_SUBMITTED"
)

// Event is the single envelope published for every lifecycle transition,
// whether it originates from a workflow, a task, or a review point.
type Event struct {
	ID                   string                 `json:"id"`
	Kind                 Kind                   `json:"kind"`
	WorkflowExecutionID  string                 `json:"workflowExecutionId"`
	TaskExecutionID      string                 `json:"taskExecutionId,omitempty"`
	ReviewPointID        string                 `json:"reviewPointId,omitempty"`
	CorrelationID        string                 `json:"correlationId,omitempty"`
	Name                 string                 `json:"name,omitempty"`
	Timestamp            time.Time              `json:"timestamp"`
	Attributes           map[string]interface{} `json:"attributes,omitempty"`
}

// subscriberQueueSize bounds the per-subscriber buffer; beyond this a
// publish drops the oldest queued event for that subscriber rather than
// blocking the publishing goroutine.
const subscriberQueueSize = 256

type subscriber struct {
	id   string
	ch   chan Event
	mu   sync.Mutex
}

// Bus fans a published Event out to every active subscriber without ever
// blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	enabled     bool
}

// New returns a Bus. enabled mirrors workflow.events.enabled: when false,
// Publish is a no-op (used to fully disable event emission without
// rewiring every call site).
func New(enabled bool) *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
		enabled:     enabled,
	}
}

// Subscribe registers a new subscriber and returns its id (for
// Unsubscribe) and a receive-only channel of events.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	sub := &subscriber{id: id, ch: make(chan Event, subscriberQueueSize)}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish fans event out to every subscriber. A subscriber whose buffer is
// full has its oldest event dropped (and logged) to make room; Publish
// itself never blocks.
func (b *Bus) Publish(event Event) {
	if !b.enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		sub.offer(event)
	}
}

func (s *subscriber) offer(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- event:
		return
	default:
	}

	select {
	case dropped := <-s.ch:
		log.WithFields(log.Fields{"subscriber": s.id, "dropped_event": dropped.ID}).
			Warn("event subscriber queue full, dropping oldest event")
	default:
	}

	select {
	case s.ch <- event:
	default:
		log.WithField("subscriber", s.id).Warn("event subscriber queue full, dropping new event")
	}
}
