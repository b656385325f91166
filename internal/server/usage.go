package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/botledger/internal/gate"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	"go.uber.org/zap"
)

func (s *Server) GetUsage(c *gin.Context) {
	summary, err := s.usageSvc.GetUsage(c.Request.Context(), orgIDFrom(c), strings.TrimSpace(c.Param("feature")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type crawlLinksRequest struct {
	URLs []string `json:"urls"`
}

type crawlLinksResult struct {
	Tracked int64    `json:"tracked"`
	URLs    []string `json:"urls"`
}

// CrawlLinks accepts links for crawling when the plan has room for all of them.
func (s *Server) CrawlLinks(c *gin.Context) {
	var req crawlLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		AbortWithError(c, newValidationError("urls", "required", "at least one url is required"))
		return
	}
	orgID := orgIDFrom(c)
	n := int64(len(urls))

	res := gate.WithWebsiteLinkCheck[crawlLinksResult](c.Request.Context(), s.gate, orgID, n,
		func(ctx context.Context) gate.Result[crawlLinksResult] {
			if err := s.usageSvc.TrackWebsiteLinkUsage(ctx, orgID, n, usagedomain.UsageMetadata{Source: "crawl", URLs: urls}); err != nil {
				s.log.Error("link usage tracking failed", zap.String("org_id", orgID.String()), zap.Error(err))
				return gate.Fail[crawlLinksResult](gate.CodeUnavailable, "Links could not be recorded. Please try again.")
			}
			return gate.OK(crawlLinksResult{Tracked: n, URLs: urls})
		})
	writeGateResult(c, res)
}

type createAgentRequest struct {
	Name string `json:"name"`
}

type createAgentResult struct {
	Name string `json:"name"`
}

func (s *Server) CreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}
	orgID := orgIDFrom(c)
	name := strings.TrimSpace(req.Name)

	res := gate.WithAgentCheck[createAgentResult](c.Request.Context(), s.gate, orgID, 1,
		func(ctx context.Context) gate.Result[createAgentResult] {
			if err := s.usageSvc.TrackAgentUsage(ctx, orgID, 1, usagedomain.UsageMetadata{Source: "agent", ResourceID: name}); err != nil {
				s.log.Error("agent usage tracking failed", zap.String("org_id", orgID.String()), zap.Error(err))
				return gate.Fail[createAgentResult](gate.CodeUnavailable, "The agent could not be recorded. Please try again.")
			}
			return gate.OK(createAgentResult{Name: name})
		})
	writeGateResult(c, res)
}
