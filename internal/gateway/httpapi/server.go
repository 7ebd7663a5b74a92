// Package httpapi exposes the REST surface over the agent control
// plane. All domain failures render as their apperr taxonomy entry;
// handlers stay thin and push policy into the owning component.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/auth"
	"github.com/nolan-sh/nolan/internal/common/httpmw"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/cronos"
	"github.com/nolan-sh/nolan/internal/gateway/websocket"
	"github.com/nolan-sh/nolan/internal/session"
)

// SessionManager is the supervisor surface the gateway needs.
// *session.Supervisor satisfies it.
type SessionManager interface {
	List(ctx context.Context) ([]session.Info, error)
	Create(ctx context.Context, name, initialCommand, workDir string, env map[string]string) error
	CreateRalph(ctx context.Context, initialCommand, workDir string, env map[string]string) (string, error)
	Kill(ctx context.Context, name string) error
	SendInput(ctx context.Context, name, payload string, mode session.InputMode) error
	Peek(ctx context.Context, name string, lines int) (string, error)
	SetLabel(ctx context.Context, name, label string) (string, error)
	Label(name string) (string, bool)
	ClearLabel(ctx context.Context, name string)
	Resize(ctx context.Context, name string, cols, rows int) error
}

// Server is the REST gateway.
type Server struct {
	log       *logger.Logger
	auth      *auth.Service
	agents    *agent.Store
	scheduler *cronos.Scheduler
	sessions  SessionManager
	terminal  *websocket.TerminalHandler
	version   string

	engine *gin.Engine
	srv    *http.Server
}

// NewServer assembles the router. terminal may be nil when the
// WebSocket surface is disabled.
func NewServer(log *logger.Logger, authSvc *auth.Service, agents *agent.Store,
	scheduler *cronos.Scheduler, sessions SessionManager,
	terminal *websocket.TerminalHandler, version string) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		log:       log.WithFields(zap.String("component", "http-gateway")),
		auth:      authSvc,
		agents:    agents,
		scheduler: scheduler,
		sessions:  sessions,
		terminal:  terminal,
		version:   version,
	}
	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(httpmw.RequestLogger(s.log, "nolan-api"))
	s.engine.Use(httpmw.OtelTracing("nolan-api"))
	s.engine.Use(auth.Middleware(authSvc))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.health)

	api.POST("/auth/setup", s.authSetup)
	api.POST("/auth/login", s.authLogin)
	api.POST("/auth/logout", s.authLogout)
	api.GET("/auth/status", s.authStatus)

	api.GET("/agents", s.listAgents)
	api.POST("/agents", s.createAgent)
	api.GET("/agents/:name", s.getAgent)
	api.PUT("/agents/:name", s.updateAgent)
	api.DELETE("/agents/:name", s.deleteAgent)
	api.GET("/agents/:name/role", s.getAgentRole)
	api.PUT("/agents/:name/role", s.putAgentRole)
	api.POST("/agents/:name/trigger", s.triggerAgent)
	api.POST("/agents/:name/cancel", s.cancelAgent)

	api.GET("/templates", s.listTemplates)
	api.POST("/templates/:name/install", s.installTemplate)
	api.POST("/templates/:name/uninstall", s.uninstallTemplate)

	api.GET("/teams", s.listTeams)
	api.POST("/teams", s.createTeam)
	api.GET("/teams/:name", s.getTeam)
	api.PUT("/teams/:name", s.updateTeam)
	api.DELETE("/teams/:name", s.deleteTeam)
	api.POST("/teams/:old/rename/:new", s.renameTeam)

	api.GET("/schedules", s.listSchedules)
	api.POST("/schedules", s.createSchedule)
	api.GET("/schedules/:id", s.getSchedule)
	api.PUT("/schedules/:id", s.updateSchedule)
	api.DELETE("/schedules/:id", s.deleteSchedule)
	api.POST("/schedules/:id/toggle", s.toggleSchedule)
	api.GET("/scheduler/health", s.schedulerHealth)

	api.GET("/runs", s.listRuns)
	api.GET("/runs/:run_id", s.getRun)
	api.GET("/runs/:run_id/log", s.getRunLog)

	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.POST("/sessions/ralph", s.createRalphSession)
	api.DELETE("/sessions/:name", s.killSession)
	api.GET("/sessions/:name/peek", s.peekSession)
	api.POST("/sessions/:name/input", s.sessionInput)
	api.POST("/sessions/:name/key", s.sessionKey)
	api.POST("/sessions/:name/resize", s.sessionResize)
	api.GET("/sessions/:name/label", s.getSessionLabel)
	api.PUT("/sessions/:name/label", s.setSessionLabel)
	api.DELETE("/sessions/:name/label", s.clearSessionLabel)

	if s.terminal != nil {
		api.GET("/ws/terminal/:session", s.terminal.Handle)
	}
}

// Start binds the listener and serves in the background. A bind failure
// is returned synchronously so the caller can exit non-zero.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()
	s.log.Info("http gateway listening", zap.String("addr", addr))
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}
