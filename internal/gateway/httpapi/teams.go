package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/common/apperr"
)

func (s *Server) listTeams(c *gin.Context) {
	teams, err := s.agents.ListTeams()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": teams})
}

func (s *Server) getTeam(c *gin.Context) {
	team, err := s.agents.GetTeam(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

func (s *Server) createTeam(c *gin.Context) {
	var team agent.Team
	if err := c.ShouldBindJSON(&team); err != nil {
		badRequest(c, err)
		return
	}
	if existing, _ := s.agents.GetTeam(team.Name); existing != nil {
		fail(c, apperr.AlreadyExists("team", team.Name))
		return
	}
	if err := s.agents.SaveTeam(&team); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, team)
}

func (s *Server) updateTeam(c *gin.Context) {
	if _, err := s.agents.GetTeam(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	var team agent.Team
	if err := c.ShouldBindJSON(&team); err != nil {
		badRequest(c, err)
		return
	}
	team.Name = c.Param("name")
	if err := s.agents.SaveTeam(&team); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

func (s *Server) deleteTeam(c *gin.Context) {
	if err := s.agents.DeleteTeam(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) renameTeam(c *gin.Context) {
	if err := s.agents.RenameTeam(c.Param("old"), c.Param("new")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "renamed", "name": c.Param("new")})
}
