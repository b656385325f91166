package domain

import (
	"context"
	"time"
)

type Repository interface {
	Save(ctx context.Context, info ScheduleInfo, ttl time.Duration) error
	Find(ctx context.Context, scheduleID string) (*ScheduleInfo, error)
	ScheduleIDs(ctx context.Context) ([]string, error)

	SaveIndex(ctx context.Context, meta ScheduleMetadata, scheduleID string, ttl time.Duration) error
	// TakeIndex resolves and deletes the index entry. Empty id means no entry.
	TakeIndex(ctx context.Context, meta ScheduleMetadata) (string, error)
	// IndexedIDs lists schedule ids indexed under contactID, narrowed by provider when set.
	IndexedIDs(ctx context.Context, contactID, provider string) ([]string, error)
}
