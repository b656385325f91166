package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/clock"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	"github.com/smallbiznis/botledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	if req.OrgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	if !req.PlanType.Valid() {
		return subscriptiondomain.Subscription{}, plandomain.ErrInvalidPlanType
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = subscriptiondomain.BillingCycleMonthly
	}
	if cycle != subscriptiondomain.BillingCycleMonthly && cycle != subscriptiondomain.BillingCycleYearly {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidBillingCycle
	}
	status := req.Status
	if status == "" {
		status = subscriptiondomain.SubscriptionStatusActive
	}
	if !status.Valid() {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStatus
	}

	now := s.clock.Now()
	start := now
	if req.PeriodStart != nil {
		start = req.PeriodStart.UTC()
	}

	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		OrgID:              req.OrgID,
		PlanType:           req.PlanType,
		BillingCycle:       cycle,
		Status:             status,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   cycle.Next(start),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	existing, err := s.repo.FindByOrgID(ctx, s.db, req.OrgID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if existing != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionExists
	}
	if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionExists
		}
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.String("org_id", req.OrgID.String()),
		zap.String("plan_type", string(req.PlanType)),
		zap.String("status", string(status)),
	)
	return subscription, nil
}

func (s *Service) GetByOrgID(ctx context.Context, orgID snowflake.ID) (subscriptiondomain.Subscription, error) {
	if orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	item, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if item == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *item, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req subscriptiondomain.UpdateStatusRequest) (subscriptiondomain.Subscription, error) {
	if req.OrgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	if !req.Status.Valid() {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStatus
	}

	current, err := s.GetByOrgID(ctx, req.OrgID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if current.Status == req.Status {
		return current, nil
	}

	now := s.clock.Now()
	rows, err := s.repo.UpdateStatus(ctx, s.db, req.OrgID, req.Status, now)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if rows == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	s.log.Info("subscription status changed",
		zap.String("org_id", req.OrgID.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(req.Status)),
	)
	current.Status = req.Status
	current.UpdatedAt = now
	return current, nil
}

func (s *Service) ChangePlan(ctx context.Context, orgID snowflake.ID, planType plandomain.PlanType) (subscriptiondomain.Subscription, error) {
	if !planType.Valid() {
		return subscriptiondomain.Subscription{}, plandomain.ErrInvalidPlanType
	}
	current, err := s.GetByOrgID(ctx, orgID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	current.PlanType = planType
	current.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdatePlan(ctx, s.db, &current); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return current, nil
}

func (s *Service) RolloverPeriod(ctx context.Context, orgID snowflake.ID) (subscriptiondomain.RolloverResult, error) {
	current, err := s.GetByOrgID(ctx, orgID)
	if err != nil {
		return subscriptiondomain.RolloverResult{}, err
	}

	now := s.clock.Now()
	if current.CurrentPeriodEnd.After(now) {
		return subscriptiondomain.RolloverResult{}, subscriptiondomain.ErrPeriodNotEnded
	}

	result := subscriptiondomain.RolloverResult{
		PreviousStart: current.CurrentPeriodStart,
		PreviousEnd:   current.CurrentPeriodEnd,
	}
	start, end := advance(current.BillingCycle, current.CurrentPeriodEnd, now, &result.PeriodsSkipped)

	rows, err := s.repo.AdvancePeriod(ctx, s.db, current.ID, start, end, now)
	if err != nil {
		return subscriptiondomain.RolloverResult{}, err
	}
	if rows == 0 {
		return subscriptiondomain.RolloverResult{}, subscriptiondomain.ErrPeriodConflict
	}

	current.CurrentPeriodStart = start
	current.CurrentPeriodEnd = end
	current.UpdatedAt = now
	result.Subscription = current

	s.log.Info("subscription period rolled over",
		zap.String("org_id", orgID.String()),
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Int("periods_skipped", result.PeriodsSkipped),
	)
	return result, nil
}

func (s *Service) ListPeriodEnded(ctx context.Context, before time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListPeriodEnded(ctx, s.db, before, limit)
}

// advance steps whole periods from end until the period contains now.
func advance(cycle subscriptiondomain.BillingCycle, end, now time.Time, skipped *int) (time.Time, time.Time) {
	start := end
	next := cycle.Next(start)
	for !next.After(now) {
		start = next
		next = cycle.Next(start)
		*skipped++
	}
	return start, next
}
