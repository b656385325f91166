package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service closes ended subscription periods and renews their plan credits.
type Service interface {
	// RolloverDue processes every subscription whose period has ended.
	RolloverDue(ctx context.Context) (RolloverSummary, error)
	Rollover(ctx context.Context, orgID snowflake.ID) (Outcome, error)
}

type Outcome struct {
	OrgID          snowflake.ID `json:"org_id"`
	PeriodsSkipped int          `json:"periods_skipped"`
	Expired        int64        `json:"expired"`
	Granted        int64        `json:"granted"`
}

type RolloverSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

var ErrRenewalFailed = errors.New("plan_allocation_renewal_failed")
