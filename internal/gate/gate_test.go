package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/cache"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const orgID = snowflake.ID(42)

type stubSubscriptions struct {
	subscriptiondomain.Service
	status subscriptiondomain.SubscriptionStatus
	err    error
}

func (s stubSubscriptions) GetByOrgID(context.Context, snowflake.ID) (subscriptiondomain.Subscription, error) {
	if s.err != nil {
		return subscriptiondomain.Subscription{}, s.err
	}
	return subscriptiondomain.Subscription{OrgID: orgID, Status: s.status}, nil
}

type stubUsage struct {
	usagedomain.Service
	links  bool
	agents bool
}

func (s stubUsage) HasRemainingWebsiteLinks(context.Context, snowflake.ID, int64) bool { return s.links }
func (s stubUsage) HasRemainingAgents(context.Context, snowflake.ID, int64) bool      { return s.agents }

type stubCredits struct {
	creditdomain.Service
	enough bool
}

func (s stubCredits) HasEnoughCredits(context.Context, snowflake.ID, string) bool { return s.enough }

func newTestGate(subs stubSubscriptions, usage stubUsage, credits stubCredits) *Gate {
	return New(Params{
		Log: zap.NewNop(),
		Cfg: config.Config{Gate: config.GateConfig{
			BillingRedirectPath: "/dashboard/%s/billing",
			UsageRedirectPath:   "/dashboard/%s/billing/usage",
			CreditsRedirectPath: "/dashboard/%s/billing/credits",
		}},
		SubscriptionSvc: subs,
		UsageSvc:        usage,
		CreditSvc:       credits,
		Metrics:         metrics.NewNop(),
	})
}

func counting(calls *int) Operation[string] {
	return func(context.Context) Result[string] {
		*calls++
		return OK("done")
	}
}

func TestWithSubscriptionCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("canceled denied even when narrowed to active", func(t *testing.T) {
		calls := 0
		g := newTestGate(stubSubscriptions{status: subscriptiondomain.SubscriptionStatusCanceled}, stubUsage{}, stubCredits{})
		res := WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls), subscriptiondomain.SubscriptionStatusActive)
		assert.False(t, res.Success)
		assert.Equal(t, CodeSubscriptionRequired, res.Code)
		assert.Equal(t, "/dashboard/42/billing", res.RedirectURL)
		assert.NotEmpty(t, res.Message)
		assert.Zero(t, calls)
	})

	t.Run("trialing allowed by default", func(t *testing.T) {
		calls := 0
		g := newTestGate(stubSubscriptions{status: subscriptiondomain.SubscriptionStatusTrialing}, stubUsage{}, stubCredits{})
		res := WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls))
		assert.True(t, res.Success)
		assert.Equal(t, "done", res.Data)
		assert.Equal(t, 1, calls)
	})

	t.Run("trialing denied when narrowed to active", func(t *testing.T) {
		calls := 0
		g := newTestGate(stubSubscriptions{status: subscriptiondomain.SubscriptionStatusTrialing}, stubUsage{}, stubCredits{})
		res := WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls), subscriptiondomain.SubscriptionStatusActive)
		assert.Equal(t, CodeSubscriptionRequired, res.Code)
		assert.Zero(t, calls)
	})

	t.Run("missing subscription", func(t *testing.T) {
		calls := 0
		g := newTestGate(stubSubscriptions{err: subscriptiondomain.ErrSubscriptionNotFound}, stubUsage{}, stubCredits{})
		res := WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls))
		assert.Equal(t, CodeSubscriptionRequired, res.Code)
		assert.Zero(t, calls)
	})

	t.Run("lookup failure fails closed", func(t *testing.T) {
		calls := 0
		g := newTestGate(stubSubscriptions{err: errors.New("connection refused")}, stubUsage{}, stubCredits{})
		res := WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls))
		assert.False(t, res.Success)
		assert.Equal(t, CodeUnavailable, res.Code)
		assert.Zero(t, calls)
	})

	t.Run("operation result returned verbatim", func(t *testing.T) {
		g := newTestGate(stubSubscriptions{status: subscriptiondomain.SubscriptionStatusActive}, stubUsage{}, stubCredits{})
		res := WithSubscriptionCheck[string](ctx, g, orgID, func(context.Context) Result[string] {
			return Fail[string]("CRAWL_FAILED", "upstream timeout")
		})
		assert.Equal(t, Result[string]{Code: "CRAWL_FAILED", Message: "upstream timeout"}, res)
	})
}

func TestCompositeGates(t *testing.T) {
	ctx := context.Background()
	active := stubSubscriptions{status: subscriptiondomain.SubscriptionStatusActive}

	t.Run("link limit exceeded", func(t *testing.T) {
		calls := 0
		g := newTestGate(active, stubUsage{links: false}, stubCredits{})
		res := WithWebsiteLinkCheck[string](ctx, g, orgID, 5, counting(&calls))
		assert.Equal(t, CodeLimitExceeded, res.Code)
		assert.Equal(t, "/dashboard/42/billing/usage", res.RedirectURL)
		assert.Zero(t, calls)
	})

	t.Run("agent limit exceeded", func(t *testing.T) {
		calls := 0
		g := newTestGate(active, stubUsage{links: true, agents: false}, stubCredits{})
		res := WithAgentCheck[string](ctx, g, orgID, 1, counting(&calls))
		assert.Equal(t, CodeLimitExceeded, res.Code)
		assert.Zero(t, calls)
	})

	t.Run("insufficient credits", func(t *testing.T) {
		calls := 0
		g := newTestGate(active, stubUsage{}, stubCredits{enough: false})
		res := WithCreditCheck[string](ctx, g, orgID, "gpt-4o", counting(&calls))
		assert.Equal(t, CodeInsufficientCredits, res.Code)
		assert.Equal(t, "/dashboard/42/billing/credits", res.RedirectURL)
		assert.Zero(t, calls)
	})

	t.Run("subscription denial wins over limit", func(t *testing.T) {
		calls := 0
		g := newTestGate(stubSubscriptions{status: subscriptiondomain.SubscriptionStatusPastDue}, stubUsage{}, stubCredits{})
		res := WithWebsiteLinkCheck[string](ctx, g, orgID, 1, counting(&calls))
		assert.Equal(t, CodeSubscriptionRequired, res.Code)
		assert.Zero(t, calls)
	})

	t.Run("both checks pass", func(t *testing.T) {
		calls := 0
		g := newTestGate(active, stubUsage{links: true, agents: true}, stubCredits{enough: true})
		assert.True(t, WithWebsiteLinkCheck[string](ctx, g, orgID, 1, counting(&calls)).Success)
		assert.True(t, WithAgentCheck[string](ctx, g, orgID, 1, counting(&calls)).Success)
		assert.True(t, WithCreditCheck[string](ctx, g, orgID, "gpt-4o", counting(&calls)).Success)
		assert.Equal(t, 3, calls)
	})
}

func TestRedirectWithoutPlaceholder(t *testing.T) {
	assert.Equal(t, "/billing", redirect("/billing", orgID))
	assert.Equal(t, "/o/42", redirect("/o/%s", orgID))
}

type countingSubscriptions struct {
	subscriptiondomain.Service
	calls int
}

func (s *countingSubscriptions) GetByOrgID(context.Context, snowflake.ID) (subscriptiondomain.Subscription, error) {
	s.calls++
	return subscriptiondomain.Subscription{ID: 9, OrgID: orgID, Status: subscriptiondomain.SubscriptionStatusActive}, nil
}

func TestWithSubscriptionCheckUsesResolverCache(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	resolver := cache.NewResolverCache(config.Config{Cache: config.CacheConfig{Enabled: true, SubscriptionTTL: time.Minute}}, fake)
	subs := &countingSubscriptions{}
	g := New(Params{
		Log:             zap.NewNop(),
		SubscriptionSvc: subs,
		UsageSvc:        stubUsage{},
		CreditSvc:       stubCredits{},
		Cache:           resolver,
	})

	calls := 0
	for range 3 {
		res := WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls))
		assert.True(t, res.Success)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, subs.calls)

	resolver.ForgetSubscription(orgID)
	WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls))
	assert.Equal(t, 2, subs.calls)

	fake.Advance(time.Minute)
	WithSubscriptionCheck[string](ctx, g, orgID, counting(&calls))
	assert.Equal(t, 3, subs.calls)
}
