// Package domain contains the plan catalog: consumable features and the
// per-plan limits applied to them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanType is the subscription tier a limit applies to.
type PlanType string

const (
	PlanTypeFree       PlanType = "FREE"
	PlanTypeStarter    PlanType = "STARTER"
	PlanTypeGrowth     PlanType = "GROWTH"
	PlanTypeEnterprise PlanType = "ENTERPRISE"
)

func (p PlanType) Valid() bool {
	switch p {
	case PlanTypeFree, PlanTypeStarter, PlanTypeGrowth, PlanTypeEnterprise:
		return true
	}
	return false
}

// Feature names shared with callers.
const (
	FeatureMessageCredits = "message_credits"
	FeatureLinks          = "links"
	FeatureAgents         = "agents"
)

type PlanFeature struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_plan_features_name" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (PlanFeature) TableName() string { return "plan_features" }

// PlanLimit caps a feature for a plan. Value is ignored when IsUnlimited is set.
type PlanLimit struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanType    PlanType     `gorm:"type:varchar(32);not null;uniqueIndex:ux_plan_limits_plan_feature,priority:1" json:"plan_type"`
	FeatureID   snowflake.ID `gorm:"not null;uniqueIndex:ux_plan_limits_plan_feature,priority:2" json:"feature_id"`
	Value       int64        `gorm:"not null;default:0" json:"value"`
	IsUnlimited bool         `gorm:"not null;default:false" json:"is_unlimited"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (PlanLimit) TableName() string { return "plan_limits" }

// Allows reports whether total units fit under the limit.
func (l PlanLimit) Allows(total int64) bool {
	return l.IsUnlimited || total <= l.Value
}
