package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	reengagementdomain "github.com/smallbiznis/botledger/internal/reengagement/domain"
)

func (s *Server) ContactTagged(c *gin.Context) {
	var ev reengagementdomain.ContactEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.reengagementSvc.OnContactTagged(c.Request.Context(), ev)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if res == nil {
		c.JSON(http.StatusOK, gin.H{"scheduled": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"scheduled": true, "data": res})
}

func (s *Server) ContactReplied(c *gin.Context) {
	var ev reengagementdomain.ContactEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cancelled, err := s.reengagementSvc.OnContactReplied(c.Request.Context(), ev)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}
