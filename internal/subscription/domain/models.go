// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
)

// SubscriptionStatus mirrors the billing provider's lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
	SubscriptionStatusUnpaid   SubscriptionStatus = "UNPAID"
)

// DefaultAllowedStatuses may consume metered features.
var DefaultAllowedStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusExpired, SubscriptionStatusUnpaid:
		return true
	}
	return false
}

// In reports whether s is one of allowed.
func (s SubscriptionStatus) In(allowed []SubscriptionStatus) bool {
	for _, candidate := range allowed {
		if s == candidate {
			return true
		}
	}
	return false
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "MONTHLY"
	BillingCycleYearly  BillingCycle = "YEARLY"
)

// Next returns the end of a period that starts at start.
func (c BillingCycle) Next(start time.Time) time.Time {
	if c == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Subscription is the single billing agreement of an organization.
type Subscription struct {
	ID                 snowflake.ID        `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID        `gorm:"not null;uniqueIndex:ux_subscriptions_org" json:"org_id"`
	PlanType           plandomain.PlanType `gorm:"type:varchar(32);not null" json:"plan_type"`
	BillingCycle       BillingCycle        `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	Status             SubscriptionStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	CurrentPeriodStart time.Time           `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time           `gorm:"not null;index" json:"current_period_end"`
	CreatedAt          time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
