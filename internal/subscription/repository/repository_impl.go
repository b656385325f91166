package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, org_id, plan_type, billing_cycle, status, current_period_start,
	current_period_end, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrgID,
		subscription.PlanType,
		subscription.BillingCycle,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = ?`,
		orgID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status subscriptiondomain.SubscriptionStatus, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE org_id = ?`,
		status,
		at,
		orgID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET plan_type = ?, updated_at = ? WHERE id = ?`,
		subscription.PlanType,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?, current_period_end = ?, updated_at = ?
		 WHERE id = ? AND current_period_end < ?`,
		start,
		end,
		at,
		id,
		end,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListPeriodEnded(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE current_period_end <= ?
		 ORDER BY current_period_end ASC, id ASC
		 LIMIT ?`,
		before,
		limit,
	).Scan(&items).Error
	return items, err
}
