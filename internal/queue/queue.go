// Package queue implements the task-dispatch/task-result message queues used
// by QUEUED-mode task executors and the async result ingress.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/config"
)

// TaskMessage is published on the dispatch subject when a task's execution
// mode is QUEUED; an external worker consumes it and eventually publishes a
// matching ResultMessage.
type TaskMessage struct {
	WorkflowExecutionID string                 `json:"workflowExecutionId"`
	TaskExecutionID     string                 `json:"taskExecutionId"`
	TaskType            string                 `json:"taskType"`
	Configuration       map[string]interface{} `json:"configuration"`
	DispatchedAt        time.Time              `json:"dispatchedAt"`
}

// ResultMessage is published by an external worker once it has finished
// processing a TaskMessage, and consumed by the async result ingress.
type ResultMessage struct {
	TaskExecutionID string                 `json:"taskExecutionId"`
	Success         bool                   `json:"success"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CompletedAt     time.Time              `json:"completedAt"`
}

// Client wraps a NATS connection for the two subjects this module needs.
type Client struct {
	conn            *nats.Conn
	dispatchSubject string
	resultSubject   string
}

// Connect dials the configured NATS server, reconnecting indefinitely on
// connection loss.
func Connect(cfg config.QueueConfig) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWaitSec)*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.WithField("url", cfg.URL).Info("connected to nats")

	return &Client{
		conn:            conn,
		dispatchSubject: cfg.DispatchSubject,
		resultSubject:   cfg.ResultSubject,
	}, nil
}

// PublishTask dispatches a task to the task-dispatch subject.
func (c *Client) PublishTask(msg TaskMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}
	if err := c.conn.Publish(c.dispatchSubject, raw); err != nil {
		return fmt.Errorf("publish task message: %w", err)
	}
	return nil
}

// PublishResult publishes a task result to the task-result subject. Used by
// in-process QUEUED executor stubs and by tests simulating an external
// worker.
func (c *Client) PublishResult(msg ResultMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal result message: %w", err)
	}
	if err := c.conn.Publish(c.resultSubject, raw); err != nil {
		return fmt.Errorf("publish result message: %w", err)
	}
	return nil
}

// SubscribeResults registers handler to be invoked for every ResultMessage
// published to the task-result subject, using a queue group so multiple
// ingress instances share the load without double-processing a message.
func (c *Client) SubscribeResults(queueGroup string, handler func(ResultMessage)) (*nats.Subscription, error) {
	sub, err := c.conn.QueueSubscribe(c.resultSubject, queueGroup, func(m *nats.Msg) {
		var msg ResultMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.WithError(err).Warn("discarding malformed task result message")
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to result subject: %w", err)
	}
	return sub, nil
}

// Close drains and closes the underlying NATS connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
