// Package ratelimit throttles credit usage per organization with a Redis token bucket.
package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyCreditUsageOrg = "ratelimit:credits:usage:org:"

var Module = fx.Module("ratelimit",
	fx.Provide(NewCreditUsageLimiter),
)

type Params struct {
	fx.In

	Client redis.UniversalClient `optional:"true"`
	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
}

type CreditUsageLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewCreditUsageLimiter returns nil when limiting is disabled or no redis client
// is wired; a nil limiter allows everything.
func NewCreditUsageLimiter(p Params) *CreditUsageLimiter {
	cfg := p.Cfg.RateLimit
	if !cfg.Enabled {
		return nil
	}
	log := p.Log.Named("ratelimit")
	if p.Client == nil {
		log.Warn("rate limiting enabled without a redis client; credit usage is not throttled")
		return nil
	}
	if cfg.CreditUsageRate <= 0 || cfg.CreditUsageBurst <= 0 {
		log.Warn("rate limit rate and burst must be positive; credit usage is not throttled",
			zap.Float64("rate", cfg.CreditUsageRate),
			zap.Int("burst", cfg.CreditUsageBurst),
		)
		return nil
	}
	return &CreditUsageLimiter{
		bucket: NewTokenBucket(p.Client, p.Clock),
		rate:   cfg.CreditUsageRate,
		burst:  cfg.CreditUsageBurst,
	}
}

func (l *CreditUsageLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CreditUsageLimiter) AllowOrg(ctx context.Context, orgID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, keyCreditUsageOrg+strings.TrimSpace(orgID), l.rate, l.burst)
}
