package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
)

// Service is the ledger-based accounting engine for message credits.
type Service interface {
	// FeatureCreditCost resolves the per-unit cost of modelID, 1 when unknown.
	FeatureCreditCost(modelID string) int64
	// HasEnoughCredits fails closed: lookup errors report false.
	HasEnoughCredits(ctx context.Context, orgID snowflake.ID, modelID string) bool
	// ProcessFeatureCreditUsage debits plan allocation before purchased credits.
	ProcessFeatureCreditUsage(ctx context.Context, orgID snowflake.ID, modelID string, metadata UsageMetadata) (DebitResult, error)

	GrantCredits(ctx context.Context, req CreditRequest) (CreditTransaction, error)
	PurchaseCredits(ctx context.Context, req CreditRequest) (CreditTransaction, error)
	AdjustCredits(ctx context.Context, req CreditRequest) (CreditTransaction, error)
	// RenewPlanAllocation expires the unused plan credits of the previous period
	// and grants the allocation for the current one. Repeated calls are no-ops.
	RenewPlanAllocation(ctx context.Context, req RenewRequest) (RenewResult, error)

	GetCreditSummary(ctx context.Context, orgID snowflake.ID) (CreditSummary, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	// Reconcile compares every balance with the sum of its transactions.
	Reconcile(ctx context.Context) ([]BalanceDrift, error)
}

type UsageMetadata struct {
	Reason      string `json:"reason,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
}

type DebitResult struct {
	Cost          int64 `json:"cost"`
	FromPlan      int64 `json:"from_plan"`
	FromPurchased int64 `json:"from_purchased"`
	Balance       int64 `json:"balance"`
}

type CreditRequest struct {
	OrgID       snowflake.ID `json:"org_id"`
	Amount      int64        `json:"amount"`
	Reason      string       `json:"reason"`
	ExternalRef string       `json:"external_ref"`
}

type RenewRequest struct {
	OrgID         snowflake.ID
	PreviousStart time.Time
	PreviousEnd   time.Time
}

type RenewResult struct {
	Expired int64 `json:"expired"`
	Granted int64 `json:"granted"`
	Balance int64 `json:"balance"`
}

type CreditSummary struct {
	Balance            int64     `json:"balance"`
	PlanAllocation     int64     `json:"plan_allocation"`
	PlanUnlimited      bool      `json:"plan_unlimited"`
	PlanUsed           int64     `json:"plan_used"`
	PlanRemaining      int64     `json:"plan_remaining"`
	PurchasedRemaining int64     `json:"purchased_remaining"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
}

type ListTransactionsRequest struct {
	OrgID     snowflake.ID
	PageToken string
	PageSize  int
}

type ListTransactionsResponse struct {
	Transactions []CreditTransaction `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAmount       = errors.New("invalid_credit_amount")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrFeatureNotFound     = errors.New("credit_feature_not_found")
	ErrDebitConflict       = errors.New("credit_debit_conflict")
)
