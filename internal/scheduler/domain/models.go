package domain

import (
	"strings"
	"time"
)

// ScheduleMetadata identifies who a deferred task is for. ContactID, Provider
// and TriggerType together form the contact index key.
type ScheduleMetadata struct {
	ContactID   string `json:"contact_id,omitempty"`
	Provider    string `json:"provider,omitempty"`
	TriggerType string `json:"trigger_type,omitempty"`
	SituationID string `json:"situation_id,omitempty"`
}

// Indexed reports whether the metadata carries a full contact index key.
func (m ScheduleMetadata) Indexed() bool {
	return strings.TrimSpace(m.ContactID) != "" &&
		strings.TrimSpace(m.Provider) != "" &&
		strings.TrimSpace(m.TriggerType) != ""
}

// ScheduleInfo is the stored bookkeeping for one deferred task. Records are
// never deleted, only marked cancelled, and expire by TTL.
type ScheduleInfo struct {
	ScheduleID  string           `json:"schedule_id"`
	TaskID      string           `json:"task_id"`
	Handle      string           `json:"handle"`
	Provider    string           `json:"task_provider"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	Metadata    ScheduleMetadata `json:"metadata"`
	Cancelled   bool             `json:"cancelled"`
	CreatedAt   time.Time        `json:"created_at"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
}

func (i ScheduleInfo) Result() ScheduleResult {
	return ScheduleResult{
		ScheduleID:  i.ScheduleID,
		ScheduledAt: i.ScheduledAt,
		TaskID:      i.TaskID,
		Metadata:    i.Metadata,
	}
}
