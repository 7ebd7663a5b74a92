// Package auth gates the HTTP surface behind a single server password.
// The argon2id hash lives in one file under the data root; session
// tokens are random, in-memory and lost on restart.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/fsutil"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
)

const minPasswordLen = 8

// Service owns the password record and the live token set.
type Service struct {
	paths    *paths.Paths
	loopback bool
	log      *logger.Logger

	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewService wires the auth service. loopback reports whether the API
// listener is bound to a loopback address; a non-loopback bind forces
// authentication even before a password is configured.
func NewService(p *paths.Paths, loopback bool, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		paths:    p,
		loopback: loopback,
		log:      log.WithFields(zap.String("component", "auth")),
		tokens:   make(map[string]struct{}),
	}
}

// PasswordConfigured reports whether a password record exists.
func (s *Service) PasswordConfigured() bool {
	_, err := os.Stat(s.paths.PasswordFile())
	return err == nil
}

// Required reports whether requests must carry a session token.
func (s *Service) Required() bool {
	return s.PasswordConfigured() || !s.loopback
}

// Setup writes the initial password record. Refused once configured.
func (s *Service) Setup(password string) error {
	if s.PasswordConfigured() {
		return apperr.New(apperr.CodeAlreadyConfigured, "server password is already configured")
	}
	if len(password) < minPasswordLen {
		return apperr.Invalidf("password must be at least %d characters", minPasswordLen)
	}
	encoded, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.paths.PasswordFile(), []byte(encoded+"\n"), 0o600); err != nil {
		return apperr.Internal(err)
	}
	s.log.Info("server password configured")
	return nil
}

// Login verifies the password and mints a session token.
func (s *Service) Login(password string) (string, error) {
	data, err := os.ReadFile(s.paths.PasswordFile())
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.Unauthorized("no server password is configured")
		}
		return "", apperr.Internal(err)
	}
	ok, err := verifyPassword(password, string(trimNewline(data)))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Unauthorized("invalid password")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apperr.Internal(err)
	}
	token := hex.EncodeToString(raw)
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
	return token, nil
}

// Logout invalidates the presented token. Unknown tokens are a no-op.
func (s *Service) Logout(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// ValidToken reports whether the token names a live session.
func (s *Service) ValidToken(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	_, ok := s.tokens[token]
	s.mu.RUnlock()
	return ok
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
