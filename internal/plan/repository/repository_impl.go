package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertFeature(ctx context.Context, db *gorm.DB, feature *domain.PlanFeature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plan_features (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		feature.ID,
		feature.Name,
		feature.Description,
		feature.CreatedAt,
	).Error
}

func (r *repo) FindFeatureByName(ctx context.Context, db *gorm.DB, name string) (*domain.PlanFeature, error) {
	var feature domain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, description, created_at FROM plan_features WHERE name = ?`,
		name,
	).Scan(&feature).Error
	if err != nil {
		return nil, err
	}
	if feature.ID == 0 {
		return nil, nil
	}
	return &feature, nil
}

func (r *repo) ListFeatures(ctx context.Context, db *gorm.DB) ([]domain.PlanFeature, error) {
	var features []domain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, description, created_at FROM plan_features ORDER BY name ASC`,
	).Scan(&features).Error
	return features, err
}

func (r *repo) FindLimit(ctx context.Context, db *gorm.DB, planType domain.PlanType, featureID snowflake.ID) (*domain.PlanLimit, error) {
	var limit domain.PlanLimit
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_type, feature_id, value, is_unlimited, created_at, updated_at
		 FROM plan_limits WHERE plan_type = ? AND feature_id = ?`,
		planType,
		featureID,
	).Scan(&limit).Error
	if err != nil {
		return nil, err
	}
	if limit.ID == 0 {
		return nil, nil
	}
	return &limit, nil
}

func (r *repo) ListLimitsByFeature(ctx context.Context, db *gorm.DB, featureID snowflake.ID) ([]domain.PlanLimit, error) {
	var limits []domain.PlanLimit
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_type, feature_id, value, is_unlimited, created_at, updated_at
		 FROM plan_limits WHERE feature_id = ? ORDER BY plan_type ASC`,
		featureID,
	).Scan(&limits).Error
	return limits, err
}

func (r *repo) InsertLimit(ctx context.Context, db *gorm.DB, limit *domain.PlanLimit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plan_limits (id, plan_type, feature_id, value, is_unlimited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		limit.ID,
		limit.PlanType,
		limit.FeatureID,
		limit.Value,
		limit.IsUnlimited,
		limit.CreatedAt,
		limit.UpdatedAt,
	).Error
}

func (r *repo) UpdateLimit(ctx context.Context, db *gorm.DB, limit *domain.PlanLimit) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plan_limits SET value = ?, is_unlimited = ?, updated_at = ? WHERE id = ?`,
		limit.Value,
		limit.IsUnlimited,
		limit.UpdatedAt,
		limit.ID,
	).Error
}
