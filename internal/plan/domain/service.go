package domain

import (
	"context"
	"errors"
)

type Service interface {
	GetFeature(ctx context.Context, name string) (PlanFeature, error)
	ListFeatures(ctx context.Context) ([]PlanFeature, error)
	// GetLimit returns ErrLimitNotFound when the plan has no row for the feature.
	GetLimit(ctx context.Context, planType PlanType, featureName string) (PlanLimit, error)
	UpsertLimit(ctx context.Context, req UpsertLimitRequest) (PlanLimit, error)
}

type UpsertLimitRequest struct {
	PlanType    PlanType `json:"plan_type"`
	FeatureName string   `json:"feature"`
	Value       int64    `json:"value"`
	IsUnlimited bool     `json:"is_unlimited"`
}

var (
	ErrFeatureNotFound   = errors.New("plan_feature_not_found")
	ErrLimitNotFound     = errors.New("plan_limit_not_found")
	ErrInvalidPlanType   = errors.New("invalid_plan_type")
	ErrInvalidFeature    = errors.New("invalid_feature")
	ErrInvalidLimitValue = errors.New("invalid_limit_value")
)
