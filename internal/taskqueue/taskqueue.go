// Package taskqueue defines durable delayed-task providers and the dispatcher
// that routes delivered tasks to their handlers.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported_task_provider")
	ErrEmptyTaskID         = errors.New("task_id_empty")
	ErrProviderClosed      = errors.New("task_provider_closed")
)

// Handle is the provider-specific identity of one enqueued task.
type Handle string

// Provider enqueues a task for delivery at runAt. Providers have no cancel or
// query; cancellation is the task body's concern.
type Provider interface {
	Name() string
	Trigger(ctx context.Context, taskID string, payload json.RawMessage, runAt time.Time) (Handle, error)
}

// Consumer is implemented by providers that deliver tasks in this process.
// Run blocks until ctx is done.
type Consumer interface {
	Run(ctx context.Context, deliver DeliverFunc) error
}

type DeliverFunc func(ctx context.Context, d Delivery) error

// Delivery is one task handed back by a provider.
type Delivery struct {
	Handle   Handle          `json:"handle"`
	TaskID   string          `json:"task_id"`
	Payload  json.RawMessage `json:"payload"`
	RunAt    time.Time       `json:"run_at"`
	Attempt  int             `json:"attempt"`
	Provider string          `json:"-"`
}

// Envelope is the stored form of a task for providers that persist it.
type Envelope struct {
	Handle  Handle          `json:"handle"`
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"payload"`
	RunAt   time.Time       `json:"run_at"`
	Attempt int             `json:"attempt"`
}

func (e Envelope) Delivery(provider string) Delivery {
	return Delivery{
		Handle:   e.Handle,
		TaskID:   e.TaskID,
		Payload:  e.Payload,
		RunAt:    e.RunAt,
		Attempt:  e.Attempt,
		Provider: provider,
	}
}
