package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/cache"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	msgSubscriptionRequired = "An active subscription is required to use this feature."
	msgLinkLimit            = "Your plan's website link limit has been reached."
	msgAgentLimit           = "Your plan's agent limit has been reached."
	msgInsufficientCredits  = "You do not have enough message credits."
	msgUnavailable          = "We could not verify your subscription. Please try again."
)

// Operation is the guarded unit of work.
type Operation[T any] func(ctx context.Context) Result[T]

var Module = fx.Module("gate",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Log             *zap.Logger
	Cfg             config.Config
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	CreditSvc       creditdomain.Service
	Metrics         *metrics.Metrics     `optional:"true"`
	Cache           *cache.ResolverCache `optional:"true"`
}

type Gate struct {
	log             *zap.Logger
	cfg             config.GateConfig
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	creditSvc       creditdomain.Service
	metrics         *metrics.Metrics
	cache           *cache.ResolverCache
}

func New(p Params) *Gate {
	return &Gate{
		log:             p.Log.Named("gate"),
		cfg:             p.Cfg.Gate,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		creditSvc:       p.CreditSvc,
		metrics:         p.Metrics,
		cache:           p.Cache,
	}
}

func (g *Gate) subscription(ctx context.Context, orgID snowflake.ID) (subscriptiondomain.Subscription, error) {
	if sub, ok := g.cache.Subscription(orgID); ok {
		return sub, nil
	}
	sub, err := g.subscriptionSvc.GetByOrgID(ctx, orgID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	g.cache.SetSubscription(sub)
	return sub, nil
}

// WithSubscriptionCheck runs op only when the org's subscription status is in
// allowed, ACTIVE or TRIALING when none are given.
func WithSubscriptionCheck[T any](ctx context.Context, g *Gate, orgID snowflake.ID, op Operation[T], allowed ...subscriptiondomain.SubscriptionStatus) Result[T] {
	if len(allowed) == 0 {
		allowed = subscriptiondomain.DefaultAllowedStatuses
	}
	log := g.log.With(zap.String("org_id", orgID.String()))

	subscription, err := g.subscription(ctx, orgID)
	switch {
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return denied[T](ctx, g, CodeSubscriptionRequired, msgSubscriptionRequired, g.billingURL(orgID))
	case err != nil:
		log.Error("subscription lookup failed", zap.Error(err))
		return denied[T](ctx, g, CodeUnavailable, msgUnavailable, "")
	}

	if !subscription.Status.In(allowed) {
		log.Info("subscription status not allowed", zap.String("status", string(subscription.Status)))
		return denied[T](ctx, g, CodeSubscriptionRequired, msgSubscriptionRequired, g.billingURL(orgID))
	}
	return op(ctx)
}

// WithWebsiteLinkCheck requires capacity for requested more links.
func WithWebsiteLinkCheck[T any](ctx context.Context, g *Gate, orgID snowflake.ID, requested int64, op Operation[T]) Result[T] {
	return WithSubscriptionCheck[T](ctx, g, orgID, func(ctx context.Context) Result[T] {
		if !g.usageSvc.HasRemainingWebsiteLinks(ctx, orgID, requested) {
			return denied[T](ctx, g, CodeLimitExceeded, msgLinkLimit, g.usageURL(orgID))
		}
		return op(ctx)
	}, subscriptiondomain.DefaultAllowedStatuses...)
}

// WithAgentCheck requires capacity for requested more agents.
func WithAgentCheck[T any](ctx context.Context, g *Gate, orgID snowflake.ID, requested int64, op Operation[T]) Result[T] {
	return WithSubscriptionCheck[T](ctx, g, orgID, func(ctx context.Context) Result[T] {
		if !g.usageSvc.HasRemainingAgents(ctx, orgID, requested) {
			return denied[T](ctx, g, CodeLimitExceeded, msgAgentLimit, g.usageURL(orgID))
		}
		return op(ctx)
	}, subscriptiondomain.DefaultAllowedStatuses...)
}

// WithCreditCheck requires a balance covering one unit of modelID.
func WithCreditCheck[T any](ctx context.Context, g *Gate, orgID snowflake.ID, modelID string, op Operation[T]) Result[T] {
	return WithSubscriptionCheck[T](ctx, g, orgID, func(ctx context.Context) Result[T] {
		if !g.creditSvc.HasEnoughCredits(ctx, orgID, modelID) {
			return denied[T](ctx, g, CodeInsufficientCredits, msgInsufficientCredits, g.creditsURL(orgID))
		}
		return op(ctx)
	}, subscriptiondomain.DefaultAllowedStatuses...)
}

func denied[T any](ctx context.Context, g *Gate, code Code, message, redirect string) Result[T] {
	g.metrics.RecordGateDenied(ctx, string(code))
	return deny[T](code, message, redirect)
}

func (g *Gate) billingURL(orgID snowflake.ID) string {
	return redirect(g.cfg.BillingRedirectPath, orgID)
}

func (g *Gate) usageURL(orgID snowflake.ID) string {
	return redirect(g.cfg.UsageRedirectPath, orgID)
}

func (g *Gate) creditsURL(orgID snowflake.ID) string {
	return redirect(g.cfg.CreditsRedirectPath, orgID)
}

// redirect fills %s in path with the org id; paths without %s are returned as is.
func redirect(path string, orgID snowflake.ID) string {
	if strings.Contains(path, "%s") {
		return fmt.Sprintf(path, orgID.String())
	}
	return path
}
