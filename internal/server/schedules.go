package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	schedulerdomain "github.com/smallbiznis/botledger/internal/scheduler/domain"
)

func (s *Server) CreateSchedule(c *gin.Context) {
	var req schedulerdomain.ScheduleTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.schedulerSvc.ScheduleTask(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": res})
}

func (s *Server) ListSchedules(c *gin.Context) {
	items, err := s.schedulerSvc.ListSchedules(c.Request.Context(),
		strings.TrimSpace(c.Query("contact_id")),
		strings.TrimSpace(c.Query("provider")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CancelSchedule(c *gin.Context) {
	var req schedulerdomain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.cancelSchedule(c, req)
}

func (s *Server) CancelScheduleByID(c *gin.Context) {
	s.cancelSchedule(c, schedulerdomain.CancelRequest{ScheduleID: strings.TrimSpace(c.Param("id"))})
}

func (s *Server) cancelSchedule(c *gin.Context, req schedulerdomain.CancelRequest) {
	cancelled, err := s.schedulerSvc.CancelSchedule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *Server) GetScheduleCancelled(c *gin.Context) {
	cancelled := s.schedulerSvc.IsScheduleCancelled(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}
