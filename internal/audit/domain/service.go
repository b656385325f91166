package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
)

const (
	ActionCreditGrant        = "credit.grant"
	ActionCreditPurchase     = "credit.purchase"
	ActionCreditAdjust       = "credit.adjust"
	ActionSubscriptionPlan   = "subscription.plan.change"
	ActionSubscriptionStatus = "subscription.status.update"

	ActorSystem = "system"
)

// Entry is one action to record. ActorType and ActorID fall back to the request context.
type Entry struct {
	OrgID      snowflake.ID
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListRequest struct {
	OrgID      snowflake.ID
	Action     string
	TargetType string
	PageToken  string
	PageSize   int
}

type ListResponse struct {
	AuditLogs []AuditLog          `json:"audit_logs"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAction       = errors.New("invalid_audit_action")
)
