package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/botledger/internal/audit/domain"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
	"go.uber.org/zap"
)

const (
	headerActorType = "X-Actor-Type"
	headerActorID   = "X-Actor-ID"
)

// AuditContext attaches the caller to the request context. defaultType is used
// when the caller does not identify itself.
func AuditContext(defaultType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditdomain.Actor{
			Type: strings.TrimSpace(c.GetHeader(headerActorType)),
			ID:   strings.TrimSpace(c.GetHeader(headerActorID)),
		}
		if actor.Type == "" {
			actor.Type = defaultType
		}
		ctx := auditdomain.WithActor(c.Request.Context(), actor)
		ctx = auditdomain.WithClient(ctx, auditdomain.Client{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// recordAudit never fails the request; the action has already been applied.
func (s *Server) recordAudit(c *gin.Context, entry auditdomain.Entry) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(c.Request.Context(), entry); err != nil {
		s.log.Warn("audit log not recorded",
			zap.String("action", entry.Action),
			zap.String("org_id", entry.OrgID.String()),
			zap.Error(err),
		)
	}
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if s.auditSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		OrgID:      orgIDFrom(c),
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
