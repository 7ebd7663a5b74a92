package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/session"
)

func (s *Server) listSessions(c *gin.Context) {
	infos, err := s.sessions.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

type createSessionRequest struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (s *Server) createSession(c *gin.Context) {
	var body createSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.sessions.Create(c.Request.Context(), body.Name, body.Command, body.WorkDir, body.Env); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": body.Name})
}

func (s *Server) createRalphSession(c *gin.Context) {
	var body createSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	name, err := s.sessions.CreateRalph(c.Request.Context(), body.Command, body.WorkDir, body.Env)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name})
}

func (s *Server) killSession(c *gin.Context) {
	if err := s.sessions.Kill(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "killed"})
}

func (s *Server) peekSession(c *gin.Context) {
	lines, _ := strconv.Atoi(c.DefaultQuery("lines", "100"))
	out, err := s.sessions.Peek(c.Request.Context(), c.Param("name"), lines)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": c.Param("name"), "output": out})
}

type inputRequest struct {
	Data string `json:"data"`
	Mode string `json:"mode,omitempty"`
}

func (s *Server) sessionInput(c *gin.Context) {
	var body inputRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	mode := session.InputMode(body.Mode)
	if mode == "" {
		mode = session.ModeLiteral
	}
	switch mode {
	case session.ModeLiteral, session.ModeKey, session.ModeRaw:
	default:
		fail(c, apperr.Invalidf("unknown input mode %q", body.Mode))
		return
	}
	if err := s.sessions.SendInput(c.Request.Context(), c.Param("name"), body.Data, mode); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type keyRequest struct {
	Key string `json:"key"`
}

func (s *Server) sessionKey(c *gin.Context) {
	var body keyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.sessions.SendInput(c.Request.Context(), c.Param("name"), body.Key, session.ModeKey); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) sessionResize(c *gin.Context) {
	var body resizeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if body.Cols <= 0 || body.Rows <= 0 {
		fail(c, apperr.Invalid("cols and rows must be positive"))
		return
	}
	if err := s.sessions.Resize(c.Request.Context(), c.Param("name"), body.Cols, body.Rows); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resized"})
}

type labelRequest struct {
	Label string `json:"label"`
}

func (s *Server) setSessionLabel(c *gin.Context) {
	var body labelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	label, err := s.sessions.SetLabel(c.Request.Context(), c.Param("name"), body.Label)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": c.Param("name"), "label": label})
}

func (s *Server) getSessionLabel(c *gin.Context) {
	name := c.Param("name")
	label, ok := s.sessions.Label(name)
	if !ok {
		fail(c, apperr.NotFound("label", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": name, "label": label})
}

func (s *Server) clearSessionLabel(c *gin.Context) {
	name := c.Param("name")
	s.sessions.ClearLabel(c.Request.Context(), name)
	c.JSON(http.StatusOK, gin.H{"session": name, "label": ""})
}
