package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status SubscriptionStatus, at time.Time) (int64, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// AdvancePeriod moves the period forward; it affects no rows if another
	// caller already advanced it to end.
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end, at time.Time) (int64, error)
	ListPeriodEnded(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Subscription, error)
}
