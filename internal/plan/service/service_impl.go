package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) GetFeature(ctx context.Context, name string) (domain.PlanFeature, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.PlanFeature{}, domain.ErrInvalidFeature
	}
	feature, err := s.repo.FindFeatureByName(ctx, s.db, name)
	if err != nil {
		return domain.PlanFeature{}, err
	}
	if feature == nil {
		return domain.PlanFeature{}, domain.ErrFeatureNotFound
	}
	return *feature, nil
}

func (s *Service) ListFeatures(ctx context.Context) ([]domain.PlanFeature, error) {
	return s.repo.ListFeatures(ctx, s.db)
}

func (s *Service) GetLimit(ctx context.Context, planType domain.PlanType, featureName string) (domain.PlanLimit, error) {
	if !planType.Valid() {
		return domain.PlanLimit{}, domain.ErrInvalidPlanType
	}
	feature, err := s.GetFeature(ctx, featureName)
	if err != nil {
		return domain.PlanLimit{}, err
	}
	limit, err := s.repo.FindLimit(ctx, s.db, planType, feature.ID)
	if err != nil {
		return domain.PlanLimit{}, err
	}
	if limit == nil {
		return domain.PlanLimit{}, domain.ErrLimitNotFound
	}
	return *limit, nil
}

func (s *Service) UpsertLimit(ctx context.Context, req domain.UpsertLimitRequest) (domain.PlanLimit, error) {
	if !req.PlanType.Valid() {
		return domain.PlanLimit{}, domain.ErrInvalidPlanType
	}
	if req.Value < 0 {
		return domain.PlanLimit{}, domain.ErrInvalidLimitValue
	}
	feature, err := s.GetFeature(ctx, req.FeatureName)
	if err != nil {
		return domain.PlanLimit{}, err
	}

	now := s.clock.Now()
	var out domain.PlanLimit
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindLimit(ctx, tx, req.PlanType, feature.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.Value = req.Value
			existing.IsUnlimited = req.IsUnlimited
			existing.UpdatedAt = now
			out = *existing
			return s.repo.UpdateLimit(ctx, tx, existing)
		}
		out = domain.PlanLimit{
			ID:          s.genID.Generate(),
			PlanType:    req.PlanType,
			FeatureID:   feature.ID,
			Value:       req.Value,
			IsUnlimited: req.IsUnlimited,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.repo.InsertLimit(ctx, tx, &out)
	})
	if err != nil {
		return domain.PlanLimit{}, err
	}

	s.log.Info("plan limit updated",
		zap.String("plan_type", string(req.PlanType)),
		zap.String("feature", feature.Name),
		zap.Int64("value", req.Value),
		zap.Bool("unlimited", req.IsUnlimited),
	)
	return out, nil
}
