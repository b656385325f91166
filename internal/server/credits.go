package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/botledger/internal/audit/domain"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/internal/gate"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
	"go.uber.org/zap"
)

func (s *Server) GetCreditSummary(c *gin.Context) {
	summary, err := s.creditSvc.GetCreditSummary(c.Request.Context(), orgIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type useCreditsRequest struct {
	ModelID     string `json:"model_id"`
	Reason      string `json:"reason"`
	ExternalRef string `json:"external_ref"`
}

// UseCredits debits one model call behind the subscription and credit gates.
func (s *Server) UseCredits(c *gin.Context) {
	var req useCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID := orgIDFrom(c)
	modelID := strings.TrimSpace(req.ModelID)

	res := gate.WithCreditCheck[creditdomain.DebitResult](c.Request.Context(), s.gate, orgID, modelID,
		func(ctx context.Context) gate.Result[creditdomain.DebitResult] {
			debit, err := s.creditSvc.ProcessFeatureCreditUsage(ctx, orgID, modelID, creditdomain.UsageMetadata{
				Reason:      strings.TrimSpace(req.Reason),
				ExternalRef: strings.TrimSpace(req.ExternalRef),
			})
			switch {
			case err == nil:
				return gate.OK(debit)
			case errors.Is(err, creditdomain.ErrInsufficientCredits):
				return gate.Fail[creditdomain.DebitResult](gate.CodeInsufficientCredits, "You do not have enough message credits.")
			default:
				s.log.Error("credit debit failed", zap.String("org_id", orgID.String()), zap.String("model_id", modelID), zap.Error(err))
				return gate.Fail[creditdomain.DebitResult](gate.CodeUnavailable, "Credits could not be charged. Please try again.")
			}
		})
	writeGateResult(c, res)
}

type creditPostingRequest struct {
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	ExternalRef string `json:"external_ref"`
}

type postingFunc func(ctx context.Context, req creditdomain.CreditRequest) (creditdomain.CreditTransaction, error)

func (s *Server) GrantCredits(c *gin.Context) {
	s.postCredits(c, auditdomain.ActionCreditGrant, s.creditSvc.GrantCredits)
}

func (s *Server) PurchaseCredits(c *gin.Context) {
	s.postCredits(c, auditdomain.ActionCreditPurchase, s.creditSvc.PurchaseCredits)
}

func (s *Server) AdjustCredits(c *gin.Context) {
	s.postCredits(c, auditdomain.ActionCreditAdjust, s.creditSvc.AdjustCredits)
}

func (s *Server) postCredits(c *gin.Context, action string, post postingFunc) {
	var req creditPostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := post(c.Request.Context(), creditdomain.CreditRequest{
		OrgID:       orgIDFrom(c),
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
		ExternalRef: strings.TrimSpace(req.ExternalRef),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Entry{
		OrgID:      txn.OrgID,
		Action:     action,
		TargetType: "credit_transaction",
		TargetID:   txn.ID.String(),
		Metadata: map[string]any{
			"amount":       txn.Amount,
			"reason":       strings.TrimSpace(req.Reason),
			"external_ref": strings.TrimSpace(req.ExternalRef),
		},
	})

	c.JSON(http.StatusCreated, gin.H{"data": txn})
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.ListTransactions(c.Request.Context(), creditdomain.ListTransactionsRequest{
		OrgID:     orgIDFrom(c),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}
