// Package reconcile audits the credit ledger and counter-based usage.
package reconcile

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/internal/cronjob"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobName = "credit_reconcile"

// counterFeatures are checked for usage above their plan limit.
var counterFeatures = []string{plandomain.FeatureLinks, plandomain.FeatureAgents}

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	CreditSvc       creditdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageRepo       usagedomain.Repository
}

type Reconciler struct {
	db              *gorm.DB
	log             *zap.Logger
	creditSvc       creditdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageRepo       usagedomain.Repository
}

// Overage is an org whose recorded usage passed its plan limit.
type Overage struct {
	OrgID   snowflake.ID
	Feature string
	Used    int64
	Limit   int64
}

type Report struct {
	Drifts   []creditdomain.BalanceDrift
	Overages []Overage
}

func New(p Params) *Reconciler {
	return &Reconciler{
		db:              p.DB,
		log:             p.Log.Named("credit.reconcile"),
		creditSvc:       p.CreditSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageRepo:       p.UsageRepo,
	}
}

// Register schedules the reconciler on the cron runner.
func Register(runner *cronjob.Runner, r *Reconciler, cfg config.Config) error {
	return runner.Add(cronjob.Job{
		Name:    JobName,
		Spec:    cfg.Credit.ReconcileSchedule,
		LockTTL: cfg.Credit.ReconcileLockTTL,
		Run: func(ctx context.Context) error {
			_, err := r.Run(ctx)
			return err
		},
	})
}

func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	drifts, err := r.creditSvc.Reconcile(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Drifts: drifts}
	for _, name := range counterFeatures {
		overages, err := r.overages(ctx, name)
		if err != nil {
			return report, err
		}
		report.Overages = append(report.Overages, overages...)
	}

	r.log.Info("reconciliation finished",
		zap.Int("balance_drifts", len(report.Drifts)),
		zap.Int("usage_overages", len(report.Overages)),
	)
	return report, nil
}

func (r *Reconciler) overages(ctx context.Context, featureName string) ([]Overage, error) {
	feature, err := r.planSvc.GetFeature(ctx, featureName)
	if errors.Is(err, plandomain.ErrFeatureNotFound) {
		r.log.Warn("counter feature missing from catalog", zap.String("feature", featureName))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	totals, err := r.usageRepo.ListTotals(ctx, r.db, feature.ID)
	if err != nil {
		return nil, err
	}

	var overages []Overage
	for _, total := range totals {
		subscription, err := r.subscriptionSvc.GetByOrgID(ctx, total.OrgID)
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		limit, err := r.planSvc.GetLimit(ctx, subscription.PlanType, featureName)
		if errors.Is(err, plandomain.ErrLimitNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if limit.IsUnlimited || total.Quantity <= limit.Value {
			continue
		}

		overages = append(overages, Overage{
			OrgID:   total.OrgID,
			Feature: featureName,
			Used:    total.Quantity,
			Limit:   limit.Value,
		})
		r.log.Warn("usage above plan limit",
			zap.String("org_id", total.OrgID.String()),
			zap.String("feature", featureName),
			zap.Int64("used", total.Quantity),
			zap.Int64("limit", limit.Value),
		)
	}
	return overages, nil
}
