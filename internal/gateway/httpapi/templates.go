package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listTemplates(c *gin.Context) {
	templates, err := s.agents.ListTemplates()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (s *Server) installTemplate(c *gin.Context) {
	a, err := s.agents.InstallTemplate(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) uninstallTemplate(c *gin.Context) {
	if err := s.agents.UninstallTemplate(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "uninstalled"})
}
