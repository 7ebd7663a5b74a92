package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/auth"
)

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) authSetup(c *gin.Context) {
	var body passwordRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.auth.Setup(body.Password); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "configured"})
}

func (s *Server) authLogin(c *gin.Context) {
	var body passwordRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	token, err := s.auth.Login(body.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_token": token})
}

func (s *Server) authLogout(c *gin.Context) {
	s.auth.Logout(auth.TokenFromRequest(c))
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (s *Server) authStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"authenticated":       s.auth.ValidToken(auth.TokenFromRequest(c)),
		"auth_required":       s.auth.Required(),
		"password_configured": s.auth.PasswordConfigured(),
	})
}
