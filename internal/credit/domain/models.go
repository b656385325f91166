package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionTypeGrant      TransactionType = "GRANT"
	TransactionTypePurchase   TransactionType = "PURCHASE"
	TransactionTypeUsage      TransactionType = "USAGE"
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeGrant, TransactionTypePurchase, TransactionTypeUsage, TransactionTypeAdjustment:
		return true
	}
	return false
}

// TransactionMetadata is the typed metadata carried by every credit transaction.
type TransactionMetadata struct {
	// FromPlanAllocation marks USAGE drawn from the period's plan allocation.
	FromPlanAllocation bool   `json:"from_plan_allocation"`
	ModelID            string `json:"model_id,omitempty"`
	Reason             string `json:"reason,omitempty"`
	ExternalRef        string `json:"external_ref,omitempty"`
	// PlanGrant marks the GRANT that funds a period's plan allocation.
	PlanGrant bool `json:"plan_grant,omitempty"`
	// ExpiredPlanAllocation marks the ADJUSTMENT that removes unused plan credits.
	ExpiredPlanAllocation bool `json:"expired_plan_allocation,omitempty"`
	// Period is the RFC3339 start of the billing period a plan grant or expiry belongs to.
	Period string `json:"period,omitempty"`
}

// CreditBalance is the running total for one org and feature.
type CreditBalance struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_credit_balances_org_feature,priority:1" json:"org_id"`
	FeatureID snowflake.ID `gorm:"not null;uniqueIndex:ux_credit_balances_org_feature,priority:2" json:"feature_id"`
	Balance   int64        `gorm:"not null;default:0" json:"balance"`
	Version   int64        `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// CreditTransaction is append-only. Amount is signed.
type CreditTransaction struct {
	ID        snowflake.ID                            `gorm:"primaryKey" json:"id"`
	BalanceID snowflake.ID                            `gorm:"not null;index:ix_credit_transactions_balance_created,priority:1" json:"balance_id"`
	OrgID     snowflake.ID                            `gorm:"not null;index" json:"org_id"`
	FeatureID snowflake.ID                            `gorm:"not null" json:"feature_id"`
	Type      TransactionType                         `gorm:"type:varchar(16);not null" json:"type"`
	Amount    int64                                   `gorm:"not null" json:"amount"`
	Metadata  datatypes.JSONType[TransactionMetadata] `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time                               `gorm:"not null;index:ix_credit_transactions_balance_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// BalanceDrift is a balance row whose stored total disagrees with its transactions.
type BalanceDrift struct {
	BalanceID snowflake.ID
	OrgID     snowflake.ID
	Stored    int64
	Derived   int64
}
