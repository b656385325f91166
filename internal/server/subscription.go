package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/botledger/internal/audit/domain"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	"go.uber.org/zap"
)

type createSubscriptionRequest struct {
	PlanType     string `json:"plan_type"`
	BillingCycle string `json:"billing_cycle"`
	Status       string `json:"status"`
	PeriodStart  string `json:"period_start"`
}

// CreateSubscription starts a subscription and grants its first plan allocation.
func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	periodStart, err := parseOptionalTime(req.PeriodStart)
	if err != nil {
		AbortWithError(c, newValidationError("period_start", "invalid_period_start", "invalid period_start"))
		return
	}

	ctx := c.Request.Context()
	orgID := orgIDFrom(c)
	sub, err := s.subscriptionSvc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		OrgID:        orgID,
		PlanType:     plandomain.PlanType(strings.ToUpper(strings.TrimSpace(req.PlanType))),
		BillingCycle: subscriptiondomain.BillingCycle(strings.ToUpper(strings.TrimSpace(req.BillingCycle))),
		Status:       subscriptiondomain.SubscriptionStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		PeriodStart:  periodStart,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.cache.ForgetSubscription(orgID)

	renewal, err := s.creditSvc.RenewPlanAllocation(ctx, creditdomain.RenewRequest{OrgID: orgID})
	if err != nil {
		// The subscription stands; the next rollover or a manual grant repairs credits.
		s.log.Error("initial plan allocation failed", zap.String("org_id", orgID.String()), zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{"data": sub, "credits": renewal})
}

func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.GetByOrgID(c.Request.Context(), orgIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

type changePlanRequest struct {
	PlanType string `json:"plan_type"`
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), orgIDFrom(c),
		plandomain.PlanType(strings.ToUpper(strings.TrimSpace(req.PlanType))))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.cache.ForgetSubscription(sub.OrgID)
	s.recordAudit(c, auditdomain.Entry{
		OrgID:      sub.OrgID,
		Action:     auditdomain.ActionSubscriptionPlan,
		TargetType: "subscription",
		TargetID:   sub.ID.String(),
		Metadata:   map[string]any{"plan_type": string(sub.PlanType)},
	})

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

type subscriptionStatusWebhook struct {
	OrgID  string `json:"org_id"`
	Status string `json:"status"`
}

// SubscriptionStatusWebhook applies a status change pushed by the billing provider.
func (s *Server) SubscriptionStatusWebhook(c *gin.Context) {
	var req subscriptionStatusWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOptionalSnowflakeID(req.OrgID)
	if err != nil || orgID == nil {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
		return
	}

	sub, err := s.subscriptionSvc.UpdateStatus(c.Request.Context(), subscriptiondomain.UpdateStatusRequest{
		OrgID:  *orgID,
		Status: subscriptiondomain.SubscriptionStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.cache.ForgetSubscription(sub.OrgID)
	s.recordAudit(c, auditdomain.Entry{
		OrgID:      sub.OrgID,
		Action:     auditdomain.ActionSubscriptionStatus,
		TargetType: "subscription",
		TargetID:   sub.ID.String(),
		Metadata:   map[string]any{"status": string(sub.Status)},
	})

	c.JSON(http.StatusOK, gin.H{"data": sub})
}
