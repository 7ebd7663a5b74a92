package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/paths"
)

func newTestService(t *testing.T, loopback bool) *Service {
	t.Helper()
	p, err := paths.Resolve(t.TempDir(), "", "")
	require.NoError(t, err)
	return NewService(p, loopback, nil)
}

func TestHashRoundTrip(t *testing.T) {
	encoded, err := hashPassword("correct horse battery")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=19456,t=2,p=1$"), encoded)

	ok, err := verifyPassword("correct horse battery", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetupRules(t *testing.T) {
	s := newTestService(t, true)
	assert.False(t, s.Required(), "loopback without password needs no auth")

	err := s.Setup("short")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalid, apperr.From(err).Code)

	require.NoError(t, s.Setup("long enough password"))
	assert.True(t, s.Required())

	err = s.Setup("another password")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAlreadyConfigured, apperr.From(err).Code)

	info, err := os.Stat(s.paths.PasswordFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNonLoopbackBindForcesAuth(t *testing.T) {
	s := newTestService(t, false)
	assert.True(t, s.Required())
}

func TestLoginLogout(t *testing.T) {
	s := newTestService(t, true)
	require.NoError(t, s.Setup("long enough password"))

	_, err := s.Login("wrong password")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.From(err).Code)

	token, err := s.Login("long enough password")
	require.NoError(t, err)
	assert.Len(t, token, 64, "32 random bytes hex encoded")
	assert.True(t, s.ValidToken(token))

	s.Logout(token)
	assert.False(t, s.ValidToken(token))
}

func middlewareRig(t *testing.T, s *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(s))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/api/health", ok)
	r.GET("/api/auth/status", ok)
	r.GET("/api/agents", ok)
	return r
}

func TestMiddlewareGating(t *testing.T) {
	s := newTestService(t, true)
	require.NoError(t, s.Setup("long enough password"))
	token, err := s.Login("long enough password")
	require.NoError(t, err)
	r := middlewareRig(t, s)

	do := func(path string, header, value string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("/api/health", "", ""))
	assert.Equal(t, http.StatusOK, do("/api/auth/status", "", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/api/agents", "", ""))
	assert.Equal(t, http.StatusOK, do("/api/agents", "Authorization", "Bearer "+token))
	assert.Equal(t, http.StatusOK, do("/api/agents", SessionHeader, token))
	assert.Equal(t, http.StatusUnauthorized, do("/api/agents?token="+token, "", ""),
		"query parameter tokens are rejected")
}

func TestMiddlewareOpenWhenNotRequired(t *testing.T) {
	s := newTestService(t, true)
	r := middlewareRig(t, s)
	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
