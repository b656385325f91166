package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/botledger/internal/gate"
)

func gateStatus(code gate.Code) int {
	switch code {
	case "":
		return http.StatusOK
	case gate.CodeSubscriptionRequired, gate.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case gate.CodeLimitExceeded:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// writeGateResult renders a gated outcome with its Result body unchanged.
func writeGateResult[T any](c *gin.Context, res gate.Result[T]) {
	if res.Success {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(gateStatus(res.Code), res)
}
