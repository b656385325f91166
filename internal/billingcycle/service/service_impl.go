package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/smallbiznis/botledger/internal/billingcycle/domain"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	obscontext "github.com/smallbiznis/botledger/internal/observability/context"
	obslogger "github.com/smallbiznis/botledger/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultBatchSize = 100

type ServiceParam struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	Cfg             config.Config
	SubscriptionSvc subscriptiondomain.Service
	CreditSvc       creditdomain.Service
}

type Service struct {
	log             *zap.Logger
	clock           clock.Clock
	batchSize       int
	subscriptionSvc subscriptiondomain.Service
	creditSvc       creditdomain.Service
}

func NewService(p ServiceParam) billingcycledomain.Service {
	batchSize := p.Cfg.Credit.RolloverBatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		log:             p.Log.Named("billingcycle.service"),
		clock:           p.Clock,
		batchSize:       batchSize,
		subscriptionSvc: p.SubscriptionSvc,
		creditSvc:       p.CreditSvc,
	}
}

func (s *Service) RolloverDue(ctx context.Context) (billingcycledomain.RolloverSummary, error) {
	var summary billingcycledomain.RolloverSummary
	var jobErr error
	seen := make(map[snowflake.ID]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		due, err := s.subscriptionSvc.ListPeriodEnded(ctx, s.clock.Now(), s.batchSize)
		if err != nil {
			return summary, err
		}
		processed := 0
		for _, subscription := range due {
			if _, ok := seen[subscription.OrgID]; ok {
				continue
			}
			seen[subscription.OrgID] = struct{}{}

			_, err := s.Rollover(ctx, subscription.OrgID)
			switch {
			case err == nil:
				processed++
			case errors.Is(err, subscriptiondomain.ErrPeriodNotEnded), errors.Is(err, subscriptiondomain.ErrPeriodConflict):
				summary.Skipped++
			default:
				summary.Failed++
				jobErr = errors.Join(jobErr, err)
			}
		}
		summary.Processed += processed
		if processed == 0 || len(due) < s.batchSize {
			break
		}
	}

	s.log.Info("billingcycle.rollover.finish",
		zap.Int("processed_count", summary.Processed),
		zap.Int("skipped_count", summary.Skipped),
		zap.Int("error_count", summary.Failed),
	)
	return summary, jobErr
}

func (s *Service) Rollover(ctx context.Context, orgID snowflake.ID) (billingcycledomain.Outcome, error) {
	ctx = obscontext.WithOrgID(ctx, orgID.String())
	log := obslogger.WithContext(ctx, s.log)

	rolled, err := s.subscriptionSvc.RolloverPeriod(ctx, orgID)
	if err != nil {
		if !errors.Is(err, subscriptiondomain.ErrPeriodNotEnded) {
			log.Warn("subscription rollover failed", zap.Error(err))
		}
		return billingcycledomain.Outcome{}, err
	}

	renewed, err := s.creditSvc.RenewPlanAllocation(ctx, creditdomain.RenewRequest{
		OrgID:         orgID,
		PreviousStart: rolled.PreviousStart,
		PreviousEnd:   rolled.PreviousEnd,
	})
	if err != nil {
		log.Error("plan allocation renewal failed after rollover",
			zap.Time("previous_start", rolled.PreviousStart),
			zap.Error(err),
		)
		return billingcycledomain.Outcome{}, fmt.Errorf("%w: %v", billingcycledomain.ErrRenewalFailed, err)
	}

	return billingcycledomain.Outcome{
		OrgID:          orgID,
		PeriodsSkipped: rolled.PeriodsSkipped,
		Expired:        renewed.Expired,
		Granted:        renewed.Granted,
	}, nil
}
