package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/cronos"
)

// scopedAgent resolves :name against the shared scope, or a team when
// the team query parameter is present.
func (s *Server) scopedAgent(c *gin.Context) (*agent.Agent, error) {
	name := c.Param("name")
	team := c.Query("team")
	if team != "" {
		return s.agents.GetScoped(team, name)
	}
	return s.agents.Get(name)
}

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.agents.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) getAgent(c *gin.Context) {
	a, err := s.scopedAgent(c)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) createAgent(c *gin.Context) {
	var a agent.Agent
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	a.Team = c.Query("team")
	if existing, _ := s.agents.GetScoped(a.Team, a.Name); existing != nil {
		fail(c, apperr.AlreadyExists("agent", a.Name))
		return
	}
	if err := s.agents.Save(&a); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) updateAgent(c *gin.Context) {
	if _, err := s.scopedAgent(c); err != nil {
		fail(c, err)
		return
	}
	var a agent.Agent
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	a.Name = c.Param("name")
	a.Team = c.Query("team")
	if err := s.agents.Save(&a); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.agents.Delete(c.Query("team"), c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) getAgentRole(c *gin.Context) {
	a, err := s.scopedAgent(c)
	if err != nil {
		fail(c, err)
		return
	}
	prompt, err := s.agents.Prompt(a)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": a.Name, "role": prompt})
}

type putRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) putAgentRole(c *gin.Context) {
	a, err := s.scopedAgent(c)
	if err != nil {
		fail(c, err)
		return
	}
	var body putRoleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.agents.SavePrompt(a, body.Role); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

type triggerRequest struct {
	Label string `json:"label,omitempty"`
}

func (s *Server) triggerAgent(c *gin.Context) {
	var body triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	err := s.scheduler.TriggerAgent(c.Request.Context(), c.Param("name"), cronos.TriggerManual, body.Label)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "agent": c.Param("name")})
}

func (s *Server) cancelAgent(c *gin.Context) {
	cancelled, err := s.scheduler.CancelRun(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "run_ids": cancelled})
}
