// Package cache keeps short-lived copies of the subscription and plan limit
// lookups that every gated request makes.
package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	"go.uber.org/fx"
)

const (
	defaultSubscriptionTTL = 45 * time.Second
	defaultLimitTTL        = 10 * time.Minute
)

var Module = fx.Module("cache",
	fx.Provide(NewResolverCache),
)

// ResolverCache is safe to use as a nil pointer; every lookup then misses.
type ResolverCache struct {
	subscriptions Cache[snowflake.ID, subscriptiondomain.Subscription]
	limits        Cache[string, plandomain.PlanLimit]
	subTTL        time.Duration
	limitTTL      time.Duration
}

// NewResolverCache returns nil when caching is disabled.
func NewResolverCache(cfg config.Config, clk clock.Clock) *ResolverCache {
	if !cfg.Cache.Enabled {
		return nil
	}
	subTTL := cfg.Cache.SubscriptionTTL
	if subTTL <= 0 {
		subTTL = defaultSubscriptionTTL
	}
	limitTTL := cfg.Cache.LimitTTL
	if limitTTL <= 0 {
		limitTTL = defaultLimitTTL
	}
	return &ResolverCache{
		subscriptions: NewTTLCache[snowflake.ID, subscriptiondomain.Subscription](clk),
		limits:        NewTTLCache[string, plandomain.PlanLimit](clk),
		subTTL:        subTTL,
		limitTTL:      limitTTL,
	}
}

func (c *ResolverCache) Subscription(orgID snowflake.ID) (subscriptiondomain.Subscription, bool) {
	if c == nil {
		return subscriptiondomain.Subscription{}, false
	}
	return c.subscriptions.Get(orgID)
}

func (c *ResolverCache) SetSubscription(subscription subscriptiondomain.Subscription) {
	if c == nil || subscription.ID == 0 {
		return
	}
	c.subscriptions.Set(subscription.OrgID, subscription, c.subTTL)
}

// ForgetSubscription drops the org's entry after a status, plan or period change.
func (c *ResolverCache) ForgetSubscription(orgID snowflake.ID) {
	if c == nil {
		return
	}
	c.subscriptions.Delete(orgID)
}

func (c *ResolverCache) Limit(planType plandomain.PlanType, featureName string) (plandomain.PlanLimit, bool) {
	if c == nil {
		return plandomain.PlanLimit{}, false
	}
	return c.limits.Get(limitKey(planType, featureName))
}

func (c *ResolverCache) SetLimit(planType plandomain.PlanType, featureName string, limit plandomain.PlanLimit) {
	if c == nil || limit.ID == 0 {
		return
	}
	c.limits.Set(limitKey(planType, featureName), limit, c.limitTTL)
}

func (c *ResolverCache) ForgetLimits() {
	if c == nil {
		return
	}
	c.limits.Clear()
}

func limitKey(planType plandomain.PlanType, featureName string) string {
	return strings.ToUpper(strings.TrimSpace(string(planType))) + "|" + strings.ToLower(strings.TrimSpace(featureName))
}
