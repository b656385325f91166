package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	SumQuantity(ctx context.Context, db *gorm.DB, orgID, featureID snowflake.ID) (int64, error)
	ListTotals(ctx context.Context, db *gorm.DB, featureID snowflake.ID) ([]FeatureTotal, error)
}
