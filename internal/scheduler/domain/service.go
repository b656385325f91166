package domain

import (
	"context"
	"errors"
	"time"
)

// Service schedules deferred tasks on the configured task provider and keeps
// cancellable bookkeeping for them. Cancellation is advisory: task bodies must
// call IsScheduleCancelled before acting.
type Service interface {
	ScheduleTask(ctx context.Context, req ScheduleTaskRequest) (ScheduleResult, error)
	CancelSchedule(ctx context.Context, req CancelRequest) (bool, error)
	ListSchedules(ctx context.Context, contactID, provider string) ([]ScheduleResult, error)
	IsScheduleCancelled(ctx context.Context, scheduleID string) bool
}

// Delay is either a duration string such as "30m" or an absolute time. At wins when set.
type Delay struct {
	Duration string     `json:"duration,omitempty"`
	At       *time.Time `json:"at,omitempty"`
}

type ScheduleTaskRequest struct {
	TaskID   string           `json:"task_id"`
	Delay    Delay            `json:"delay"`
	Payload  map[string]any   `json:"payload,omitempty"`
	Metadata ScheduleMetadata `json:"metadata"`
}

type ScheduleResult struct {
	ScheduleID  string           `json:"schedule_id"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	TaskID      string           `json:"task_id"`
	Metadata    ScheduleMetadata `json:"metadata"`
}

// CancelRequest names a schedule directly or through its contact index key.
type CancelRequest struct {
	ScheduleID  string `json:"schedule_id,omitempty"`
	ContactID   string `json:"contact_id,omitempty"`
	Provider    string `json:"provider,omitempty"`
	TriggerType string `json:"trigger_type,omitempty"`
}

// PayloadScheduleID is the payload field carrying the schedule id to the task body.
const PayloadScheduleID = "schedule_id"

var (
	ErrInvalidDelay  = errors.New("invalid_schedule_delay")
	ErrInvalidTaskID = errors.New("invalid_schedule_task_id")
)
