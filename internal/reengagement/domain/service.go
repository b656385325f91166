package domain

import (
	"context"
	"errors"

	schedulerdomain "github.com/smallbiznis/botledger/internal/scheduler/domain"
	"github.com/smallbiznis/botledger/internal/taskqueue"
)

const (
	// TagNoShow marks a contact who missed an appointment.
	TagNoShow = "no_show"
	// TaskSend delivers one re-engagement message.
	TaskSend = "reengagement.send"
	Template = "reengagement"
)

// ContactEvent is a CRM webhook about one contact.
type ContactEvent struct {
	ContactID   string `json:"contact_id"`
	Provider    string `json:"provider"`
	Tag         string `json:"tag,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	SituationID string `json:"situation_id,omitempty"`
}

// SendPayload is the task body for TaskSend.
type SendPayload struct {
	ScheduleID  string `json:"schedule_id"`
	ContactID   string `json:"contact_id"`
	Provider    string `json:"provider"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	SituationID string `json:"situation_id,omitempty"`
}

// Service reacts to contact events by scheduling or cancelling a follow up.
type Service interface {
	// OnContactTagged schedules a follow up for no-show tags, replacing any
	// pending one. Other tags return nil.
	OnContactTagged(ctx context.Context, ev ContactEvent) (*schedulerdomain.ScheduleResult, error)
	// OnContactReplied cancels the pending follow up, if any.
	OnContactReplied(ctx context.Context, ev ContactEvent) (bool, error)
	HandleSend(ctx context.Context, d taskqueue.Delivery) error
}

var ErrInvalidContact = errors.New("invalid_contact")
