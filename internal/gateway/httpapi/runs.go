package httpapi

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

func (s *Server) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.scheduler.ListRuns(c.Query("agent"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":           runs,
		"running_agents": s.scheduler.RunningAgents(),
	})
}

func (s *Server) getRun(c *gin.Context) {
	r, err := s.scheduler.GetRunLog(c.Param("run_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// getRunLog streams the captured output as plain text.
func (s *Server) getRunLog(c *gin.Context) {
	r, err := s.scheduler.GetRunLog(c.Param("run_id"))
	if err != nil {
		fail(c, err)
		return
	}
	data, err := os.ReadFile(r.OutputFile)
	if err != nil {
		if os.IsNotExist(err) {
			fail(c, apperr.NotFound("run output", r.RunID))
			return
		}
		fail(c, apperr.Internal(err))
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}
