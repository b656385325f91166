package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/botledger/internal/observability/context"
	"github.com/smallbiznis/botledger/internal/ratelimit"
	"go.uber.org/zap"
)

const contextOrgIDKey = "org_id"

// OrgContext parses :orgID and puts it on the gin and request contexts.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Param("orgID"))
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
			return
		}
		c.Set(contextOrgIDKey, orgID)
		c.Request = c.Request.WithContext(obscontext.WithOrgID(c.Request.Context(), orgID.String()))
		c.Next()
	}
}

func orgIDFrom(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextOrgIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

// CreditUsageRateLimit throttles per org. Limiter errors let the request through.
func CreditUsageRateLimit(limiter *ratelimit.CreditUsageLimiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Enabled() {
			c.Next()
			return
		}
		orgID := orgIDFrom(c).String()
		res, err := limiter.AllowOrg(c.Request.Context(), orgID)
		if err != nil {
			log.Warn("rate limit check failed", zap.String("org_id", orgID), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
