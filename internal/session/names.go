// Package session supervises the terminal-multiplexer sessions that host
// agent processes. It is the sole path for creating and destroying
// sessions, owns the protected-session set, and keeps the label registry
// for ralph sessions.
package session

import (
	"fmt"
	"regexp"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

// Kind classifies a live session by its name.
type Kind string

const (
	KindCore           Kind = "core"
	KindSpawned        Kind = "spawned"
	KindRalph          Kind = "ralph"
	KindInfrastructure Kind = "infrastructure"
)

// protectedSessions are infrastructure sessions that no caller may
// destroy. Closed set, never configuration.
var protectedSessions = map[string]struct{}{
	"communicator": {},
	"history-log":  {},
	"lifecycle":    {},
}

// IsProtected reports whether name belongs to the infrastructure set.
func IsProtected(name string) bool {
	_, ok := protectedSessions[name]
	return ok
}

// ProtectedSessions returns the infrastructure names in stable order.
func ProtectedSessions() []string {
	return []string{"communicator", "history-log", "lifecycle"}
}

// ralphNamePool is drawn from when an interactive session is created
// without an explicit label.
var ralphNamePool = []string{
	"ziggy", "nova", "echo", "pixel", "blaze", "comet", "dash", "ember",
	"frost", "gizmo", "haze", "indigo", "jazz", "koda", "lumen", "midge",
	"nimbus", "onyx", "piper", "quark", "rune", "sage", "tango", "umbra",
	"vega", "wisp", "xeno", "yarrow", "zephyr", "atlas", "birch", "cinder",
}

// RalphNamePool returns the candidate labels for auto-named ralph sessions.
func RalphNamePool() []string {
	out := make([]string, len(ralphNamePool))
	copy(out, ralphNamePool)
	return out
}

var (
	agentSessionRe = regexp.MustCompile(`^agent-([a-z][a-z0-9-]*[a-z0-9]|[a-z])-([a-z]+)$`)
	ralphSessionRe = regexp.MustCompile(`^agent-ralph-([a-z0-9]+)$`)
	// any session a control-plane command may create
	sessionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,79}$`)
)

// TeamAgentSession builds the canonical session name for a team agent role.
func TeamAgentSession(agent, role string) string {
	return fmt.Sprintf("agent-%s-%s", agent, role)
}

// RalphSession builds the canonical session name for a ralph instance.
func RalphSession(label string) string {
	return fmt.Sprintf("agent-ralph-%s", label)
}

// IsRalphSession reports whether name belongs to the ralph family.
func IsRalphSession(name string) bool {
	return ralphSessionRe.MatchString(name)
}

// IsAgentSession reports whether name is any agent-owned session.
func IsAgentSession(name string) bool {
	return ralphSessionRe.MatchString(name) || agentSessionRe.MatchString(name)
}

// Classify maps a session name to its Kind.
func Classify(name string) Kind {
	switch {
	case IsProtected(name):
		return KindInfrastructure
	case ralphSessionRe.MatchString(name):
		return KindRalph
	case agentSessionRe.MatchString(name):
		return KindSpawned
	default:
		return KindCore
	}
}

// ValidateName checks a name a caller wants to create. tmux treats dots
// and colons as target separators, so the grammar excludes them.
func ValidateName(name string) error {
	if !sessionNameRe.MatchString(name) {
		return apperr.Invalidf("session name %q must match [a-z][a-z0-9_-]{0,79}", name)
	}
	return nil
}
