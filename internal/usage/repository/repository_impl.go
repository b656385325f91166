package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, org_id, feature_id, quantity, metadata, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.OrgID,
		record.FeatureID,
		record.Quantity,
		record.Metadata,
		record.RecordedAt,
	).Error
}

func (r *repo) SumQuantity(ctx context.Context, db *gorm.DB, orgID, featureID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0) FROM usage_records WHERE org_id = ? AND feature_id = ?`,
		orgID,
		featureID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) ListTotals(ctx context.Context, db *gorm.DB, featureID snowflake.ID) ([]usagedomain.FeatureTotal, error) {
	var totals []usagedomain.FeatureTotal
	err := db.WithContext(ctx).Raw(
		`SELECT org_id, SUM(quantity) AS quantity FROM usage_records
		 WHERE feature_id = ?
		 GROUP BY org_id
		 ORDER BY org_id ASC`,
		featureID,
	).Scan(&totals).Error
	return totals, err
}
