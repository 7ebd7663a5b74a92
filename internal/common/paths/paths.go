// Package paths resolves the on-disk layout of the data root and
// validates the identifier grammars used across the control plane.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

const (
	// DefaultDirName is the dot directory under $HOME used when no data
	// root is configured.
	DefaultDirName = ".nolan"

	// PasswordFileName holds the Argon2 password hash, mode 0600.
	PasswordFileName = "server-password"
)

var agentNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// ValidateAgentName checks a shared or team-local agent identifier.
func ValidateAgentName(name string) error {
	if !agentNameRe.MatchString(name) {
		return apperr.Invalidf("agent name %q must match [a-z][a-z0-9_-]{0,63}", name)
	}
	return nil
}

// ValidateTeamName checks a team identifier. Teams share the agent grammar.
func ValidateTeamName(name string) error {
	if !agentNameRe.MatchString(name) {
		return apperr.Invalidf("team name %q must match [a-z][a-z0-9_-]{0,63}", name)
	}
	return nil
}

// Paths is the resolved on-disk layout.
type Paths struct {
	DataRoot string // ~/.nolan unless overridden
	AppRoot  string // application root override, may equal DataRoot
	WorkRoot string // default working directory for agent runs
}

// Resolve builds the layout from configured roots, falling back to
// $HOME/.nolan. HOME must be set; tilde expansion is never performed.
// The data root and its state directory are created if missing.
func Resolve(dataRoot, appRoot, workRoot string) (*Paths, error) {
	if dataRoot == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return nil, fmt.Errorf("HOME is not set and no data root configured")
		}
		dataRoot = filepath.Join(home, DefaultDirName)
	}
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root %s: %w", dataRoot, err)
	}
	if appRoot == "" {
		appRoot = dataRoot
	}
	p := &Paths{DataRoot: dataRoot, AppRoot: appRoot, WorkRoot: workRoot}
	for _, dir := range []string{p.AgentsDir(), p.TeamsDir(), p.StateDir(), p.SchedulerStateDir(), p.RunsRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return p, nil
}

// AgentsDir holds shared agent definitions, one directory per agent.
func (p *Paths) AgentsDir() string {
	return filepath.Join(p.DataRoot, "agents")
}

// AgentDir is the directory of a shared agent.
func (p *Paths) AgentDir(name string) string {
	return filepath.Join(p.AgentsDir(), name)
}

// TeamsDir holds team configurations and team-scoped agents.
func (p *Paths) TeamsDir() string {
	return filepath.Join(p.DataRoot, "teams")
}

// TeamDir is the directory of a team.
func (p *Paths) TeamDir(team string) string {
	return filepath.Join(p.TeamsDir(), team)
}

// TeamAgentDir is the directory of a team-scoped agent.
func (p *Paths) TeamAgentDir(team, name string) string {
	return filepath.Join(p.TeamDir(team), "agents", name)
}

// StateDir holds control-plane state that is not user-editable.
func (p *Paths) StateDir() string {
	return filepath.Join(p.DataRoot, ".state")
}

// SchedulesFile persists the armed schedule set.
func (p *Paths) SchedulesFile() string {
	return filepath.Join(p.StateDir(), "schedules.yaml")
}

// SchedulerStateDir holds scheduler persistence such as the run index.
func (p *Paths) SchedulerStateDir() string {
	return filepath.Join(p.StateDir(), "scheduler")
}

// RunsRoot is the parent of all dated run directories.
func (p *Paths) RunsRoot() string {
	return filepath.Join(p.DataRoot, "cronos", "runs")
}

// RunsDir is the run directory for a given day.
func (p *Paths) RunsDir(t time.Time) string {
	return filepath.Join(p.RunsRoot(), t.Format("2006-01-02"))
}

// PasswordFile holds the Argon2 hash declaring that auth is mandatory.
func (p *Paths) PasswordFile() string {
	return filepath.Join(p.DataRoot, PasswordFileName)
}
