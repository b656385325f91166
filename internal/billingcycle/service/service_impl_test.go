package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/smallbiznis/botledger/internal/billingcycle/domain"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var previousStart = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type stubSubscriptions struct {
	subscriptiondomain.Service
	due        []subscriptiondomain.Subscription
	rolled     map[snowflake.ID]bool
	rolloverFn func(orgID snowflake.ID) error
}

func (s *stubSubscriptions) ListPeriodEnded(_ context.Context, _ time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var out []subscriptiondomain.Subscription
	for _, sub := range s.due {
		if !s.rolled[sub.OrgID] && len(out) < limit {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *stubSubscriptions) RolloverPeriod(_ context.Context, orgID snowflake.ID) (subscriptiondomain.RolloverResult, error) {
	if s.rolloverFn != nil {
		if err := s.rolloverFn(orgID); err != nil {
			return subscriptiondomain.RolloverResult{}, err
		}
	}
	s.rolled[orgID] = true
	return subscriptiondomain.RolloverResult{
		PreviousStart: previousStart,
		PreviousEnd:   previousStart.AddDate(0, 1, 0),
	}, nil
}

type stubCredits struct {
	creditdomain.Service
	requests []creditdomain.RenewRequest
	err      error
}

func (s *stubCredits) RenewPlanAllocation(_ context.Context, req creditdomain.RenewRequest) (creditdomain.RenewResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return creditdomain.RenewResult{}, s.err
	}
	return creditdomain.RenewResult{Expired: 3, Granted: 50}, nil
}

func newTestService(subs *stubSubscriptions, credits *stubCredits) billingcycledomain.Service {
	return NewService(ServiceParam{
		Log:             zap.NewNop(),
		Clock:           clock.NewFakeClock(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		Cfg:             config.Config{Credit: config.CreditConfig{RolloverBatchSize: 2}},
		SubscriptionSvc: subs,
		CreditSvc:       credits,
	})
}

func TestRolloverDueProcessesAllBatches(t *testing.T) {
	subs := &stubSubscriptions{rolled: map[snowflake.ID]bool{}}
	for i := 1; i <= 5; i++ {
		subs.due = append(subs.due, subscriptiondomain.Subscription{OrgID: snowflake.ID(i)})
	}
	credits := &stubCredits{}

	summary, err := newTestService(subs, credits).RolloverDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed)
	require.Len(t, credits.requests, 5)
	assert.True(t, credits.requests[0].PreviousStart.Equal(previousStart))
}

func TestRolloverDueSkipsConflicts(t *testing.T) {
	subs := &stubSubscriptions{
		rolled: map[snowflake.ID]bool{},
		due: []subscriptiondomain.Subscription{
			{OrgID: snowflake.ID(1)},
			{OrgID: snowflake.ID(2)},
		},
		rolloverFn: func(orgID snowflake.ID) error {
			if orgID == 2 {
				return subscriptiondomain.ErrPeriodConflict
			}
			return nil
		},
	}
	credits := &stubCredits{}

	summary, err := newTestService(subs, credits).RolloverDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, credits.requests, 1)
}

func TestRolloverReportsRenewalFailure(t *testing.T) {
	subs := &stubSubscriptions{rolled: map[snowflake.ID]bool{}}
	credits := &stubCredits{err: errors.New("db down")}

	_, err := newTestService(subs, credits).Rollover(context.Background(), snowflake.ID(9))
	assert.ErrorIs(t, err, billingcycledomain.ErrRenewalFailed)
}

func TestRolloverOutcome(t *testing.T) {
	subs := &stubSubscriptions{rolled: map[snowflake.ID]bool{}}
	outcome, err := newTestService(subs, &stubCredits{}).Rollover(context.Background(), snowflake.ID(9))
	require.NoError(t, err)
	assert.Equal(t, int64(3), outcome.Expired)
	assert.Equal(t, int64(50), outcome.Granted)
}
