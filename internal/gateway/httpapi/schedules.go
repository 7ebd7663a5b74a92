package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type scheduleRequest struct {
	AgentName      string `json:"agent_name"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone,omitempty"`
	Enabled        bool   `json:"enabled"`
}

func (s *Server) listSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schedules": s.scheduler.List()})
}

func (s *Server) getSchedule(c *gin.Context) {
	sched, err := s.scheduler.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) createSchedule(c *gin.Context) {
	var body scheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	sched, err := s.scheduler.Create(body.AgentName, body.CronExpression, body.Timezone, body.Enabled)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (s *Server) updateSchedule(c *gin.Context) {
	var body scheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	sched, err := s.scheduler.Update(c.Param("id"), body.CronExpression, body.Timezone, body.Enabled)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if err := s.scheduler.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) toggleSchedule(c *gin.Context) {
	var body toggleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	sched, err := s.scheduler.Toggle(c.Param("id"), body.Enabled)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) schedulerHealth(c *gin.Context) {
	window, _ := strconv.Atoi(c.DefaultQuery("window", "20"))
	report, err := s.scheduler.Health(window)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
