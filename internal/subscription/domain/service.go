package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
)

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	// GetByOrgID returns ErrSubscriptionNotFound when the org has none.
	GetByOrgID(ctx context.Context, orgID snowflake.ID) (Subscription, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (Subscription, error)
	ChangePlan(ctx context.Context, orgID snowflake.ID, planType plandomain.PlanType) (Subscription, error)
	// RolloverPeriod advances an ended period and reports the period that closed.
	RolloverPeriod(ctx context.Context, orgID snowflake.ID) (RolloverResult, error)
	ListPeriodEnded(ctx context.Context, before time.Time, limit int) ([]Subscription, error)
}

type CreateSubscriptionRequest struct {
	OrgID        snowflake.ID        `json:"org_id"`
	PlanType     plandomain.PlanType `json:"plan_type"`
	BillingCycle BillingCycle        `json:"billing_cycle"`
	Status       SubscriptionStatus  `json:"status"`
	PeriodStart  *time.Time          `json:"period_start,omitempty"`
}

// UpdateStatusRequest is the entry point for billing webhook collaborators.
type UpdateStatusRequest struct {
	OrgID  snowflake.ID       `json:"org_id"`
	Status SubscriptionStatus `json:"status"`
}

type RolloverResult struct {
	Subscription   Subscription
	PreviousStart  time.Time
	PreviousEnd    time.Time
	PeriodsSkipped int
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidStatus        = errors.New("invalid_subscription_status")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionExists   = errors.New("subscription_already_exists")
	ErrPeriodNotEnded       = errors.New("subscription_period_not_ended")
	ErrPeriodConflict       = errors.New("subscription_period_conflict")
)
