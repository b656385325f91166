package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/cache"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            usagedomain.Repository
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Metrics         *metrics.Metrics     `optional:"true"`
	Cache           *cache.ResolverCache `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            usagedomain.Repository
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	metrics         *metrics.Metrics
	cache           *cache.ResolverCache
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("usage.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		metrics:         p.Metrics,
		cache:           p.Cache,
	}
}

func (s *Service) HasRemainingWebsiteLinks(ctx context.Context, orgID snowflake.ID, requested int64) bool {
	return s.HasRemaining(ctx, orgID, plandomain.FeatureLinks, requested)
}

func (s *Service) TrackWebsiteLinkUsage(ctx context.Context, orgID snowflake.ID, quantity int64, metadata usagedomain.UsageMetadata) error {
	return s.Track(ctx, orgID, plandomain.FeatureLinks, quantity, metadata)
}

func (s *Service) HasRemainingAgents(ctx context.Context, orgID snowflake.ID, requested int64) bool {
	return s.HasRemaining(ctx, orgID, plandomain.FeatureAgents, requested)
}

func (s *Service) TrackAgentUsage(ctx context.Context, orgID snowflake.ID, quantity int64, metadata usagedomain.UsageMetadata) error {
	return s.Track(ctx, orgID, plandomain.FeatureAgents, quantity, metadata)
}

// HasRemaining reports whether currentUsage + requested stays within the plan limit.
func (s *Service) HasRemaining(ctx context.Context, orgID snowflake.ID, featureName string, requested int64) bool {
	log := s.log.With(
		zap.String("org_id", orgID.String()),
		zap.String("feature", featureName),
		zap.Int64("requested", requested),
	)
	if requested < 0 {
		return false
	}

	limit, feature, err := s.limitFor(ctx, orgID, featureName)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			log.Warn("usage check without subscription")
		} else {
			log.Error("usage limit lookup failed", zap.Error(err))
		}
		return false
	}
	if limit.IsUnlimited {
		return true
	}

	used, err := s.repo.SumQuantity(ctx, s.db, orgID, feature.ID)
	if err != nil {
		log.Error("usage sum failed", zap.Error(err))
		return false
	}
	return limit.Allows(used + requested)
}

// Track appends a usage record. Limits are not re-checked here.
func (s *Service) Track(ctx context.Context, orgID snowflake.ID, featureName string, quantity int64, metadata usagedomain.UsageMetadata) error {
	if orgID == 0 {
		return usagedomain.ErrInvalidOrganization
	}
	if quantity <= 0 {
		return usagedomain.ErrInvalidQuantity
	}
	feature, err := s.planSvc.GetFeature(ctx, featureName)
	if err != nil {
		s.log.Error("usage feature lookup failed", zap.String("feature", featureName), zap.Error(err))
		return err
	}

	record := usagedomain.UsageRecord{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		FeatureID:  feature.ID,
		Quantity:   quantity,
		Metadata:   datatypes.NewJSONType(metadata),
		RecordedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &record); err != nil {
		s.log.Error("usage insert failed",
			zap.String("org_id", orgID.String()),
			zap.String("feature", featureName),
			zap.Error(err),
		)
		return err
	}

	s.metrics.RecordUsageTracked(ctx, featureName, quantity)
	return nil
}

func (s *Service) GetUsage(ctx context.Context, orgID snowflake.ID, featureName string) (usagedomain.UsageSummary, error) {
	limit, feature, err := s.limitFor(ctx, orgID, featureName)
	if err != nil {
		return usagedomain.UsageSummary{}, err
	}
	used, err := s.repo.SumQuantity(ctx, s.db, orgID, feature.ID)
	if err != nil {
		return usagedomain.UsageSummary{}, err
	}

	summary := usagedomain.UsageSummary{
		Feature:   feature.Name,
		Used:      used,
		Limit:     limit.Value,
		Unlimited: limit.IsUnlimited,
	}
	if !limit.IsUnlimited {
		summary.Remaining = max(limit.Value-used, 0)
	}
	return summary, nil
}

func (s *Service) limitFor(ctx context.Context, orgID snowflake.ID, featureName string) (plandomain.PlanLimit, plandomain.PlanFeature, error) {
	subscription, err := s.subscriptionSvc.GetByOrgID(ctx, orgID)
	if err != nil {
		return plandomain.PlanLimit{}, plandomain.PlanFeature{}, err
	}
	feature, err := s.planSvc.GetFeature(ctx, featureName)
	if err != nil {
		return plandomain.PlanLimit{}, plandomain.PlanFeature{}, err
	}
	limit, err := s.planLimit(ctx, subscription.PlanType, featureName)
	if err != nil {
		return plandomain.PlanLimit{}, plandomain.PlanFeature{}, err
	}
	return limit, feature, nil
}

func (s *Service) planLimit(ctx context.Context, planType plandomain.PlanType, featureName string) (plandomain.PlanLimit, error) {
	if limit, ok := s.cache.Limit(planType, featureName); ok {
		return limit, nil
	}
	limit, err := s.planSvc.GetLimit(ctx, planType, featureName)
	if err != nil {
		return plandomain.PlanLimit{}, err
	}
	s.cache.SetLimit(planType, featureName, limit)
	return limit, nil
}
