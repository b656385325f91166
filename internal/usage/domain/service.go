package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service answers counter-limit questions. The Has* checks fail closed: any
// lookup error is logged and reported as no capacity.
type Service interface {
	HasRemainingWebsiteLinks(ctx context.Context, orgID snowflake.ID, requested int64) bool
	TrackWebsiteLinkUsage(ctx context.Context, orgID snowflake.ID, quantity int64, metadata UsageMetadata) error
	HasRemainingAgents(ctx context.Context, orgID snowflake.ID, requested int64) bool
	TrackAgentUsage(ctx context.Context, orgID snowflake.ID, quantity int64, metadata UsageMetadata) error

	HasRemaining(ctx context.Context, orgID snowflake.ID, featureName string, requested int64) bool
	Track(ctx context.Context, orgID snowflake.ID, featureName string, quantity int64, metadata UsageMetadata) error
	GetUsage(ctx context.Context, orgID snowflake.ID, featureName string) (UsageSummary, error)
}

type UsageSummary struct {
	Feature   string `json:"feature"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Unlimited bool   `json:"unlimited"`
	Remaining int64  `json:"remaining"`
}

var (
	ErrInvalidQuantity     = errors.New("invalid_usage_quantity")
	ErrInvalidOrganization = errors.New("invalid_organization")
)
