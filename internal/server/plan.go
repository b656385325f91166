package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
)

func (s *Server) ListPlanFeatures(c *gin.Context) {
	items, err := s.planSvc.ListFeatures(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

type upsertLimitRequest struct {
	Feature     string `json:"feature"`
	Value       int64  `json:"value"`
	IsUnlimited bool   `json:"is_unlimited"`
}

func (s *Server) UpsertPlanLimit(c *gin.Context) {
	var req upsertLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	limit, err := s.planSvc.UpsertLimit(c.Request.Context(), plandomain.UpsertLimitRequest{
		PlanType:    plandomain.PlanType(strings.ToUpper(strings.TrimSpace(c.Param("planType")))),
		FeatureName: strings.TrimSpace(req.Feature),
		Value:       req.Value,
		IsUnlimited: req.IsUnlimited,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.cache.ForgetLimits()

	c.JSON(http.StatusOK, gin.H{"data": limit})
}
