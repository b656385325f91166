package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertFeature(ctx context.Context, db *gorm.DB, feature *PlanFeature) error
	FindFeatureByName(ctx context.Context, db *gorm.DB, name string) (*PlanFeature, error)
	ListFeatures(ctx context.Context, db *gorm.DB) ([]PlanFeature, error)
	FindLimit(ctx context.Context, db *gorm.DB, planType PlanType, featureID snowflake.ID) (*PlanLimit, error)
	ListLimitsByFeature(ctx context.Context, db *gorm.DB, featureID snowflake.ID) ([]PlanLimit, error)
	InsertLimit(ctx context.Context, db *gorm.DB, limit *PlanLimit) error
	UpdateLimit(ctx context.Context, db *gorm.DB, limit *PlanLimit) error
}
