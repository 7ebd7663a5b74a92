package provider

import (
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/logger"
)

// Selector resolves provider names to implementations under the
// configured fallback policy.
type Selector struct {
	claude   Provider
	opencode Provider
	fallback bool
	log      *logger.Logger
}

// NewSelector builds a Selector. fallbackEnabled controls whether an
// unavailable non-default provider falls back to claude.
func NewSelector(fallbackEnabled bool, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.Default()
	}
	return &Selector{
		claude:   NewClaude(),
		opencode: NewOpenCode(),
		fallback: fallbackEnabled,
		log:      log.WithFields(zap.String("component", "provider-selector")),
	}
}

// Get returns the provider for name. An unavailable opencode falls back
// to claude when fallback is enabled; claude is always returned even
// when unavailable (the failure surfaces at spawn time).
func (s *Selector) Get(name string) (Provider, error) {
	switch name {
	case "opencode":
		if !s.opencode.IsAvailable() && s.fallback {
			s.log.Warn("opencode CLI not found, falling back to claude",
				zap.String("requested", name))
			return s.claude, nil
		}
		return s.opencode, nil
	case "claude", "":
		return s.claude, nil
	default:
		return nil, apperr.Invalidf("unknown cli provider %q", name)
	}
}
