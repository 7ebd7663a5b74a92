package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/fsutil"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/events"
)

const (
	agentFileName = "agent.yaml"
	teamFileName  = "team.yaml"
)

// knownAgentKeys are the YAML keys owned by the Agent struct. On save
// they are replaced wholesale; every other key in an existing document
// is preserved.
var knownAgentKeys = []string{
	"name", "kind", "model", "working_directory", "enabled", "cli_provider",
	"cron", "timezone", "catchup_policy", "event_trigger", "guardrails",
	"timeout_secs", "serial", "retry", "instruction_file",
}

// Store reads and writes agent and team definitions under the data root.
type Store struct {
	paths *paths.Paths
	log   *logger.Logger
}

// NewStore creates a Store over the resolved layout.
func NewStore(p *paths.Paths, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{paths: p, log: log.WithFields(zap.String("component", "agent-store"))}
}

func (s *Store) agentDir(team, name string) string {
	if team == "" {
		return s.paths.AgentDir(name)
	}
	return s.paths.TeamAgentDir(team, name)
}

// Get loads a shared agent by name.
func (s *Store) Get(name string) (*Agent, error) {
	return s.GetScoped("", name)
}

// GetScoped loads an agent from the shared scope (team == "") or a team.
func (s *Store) GetScoped(team, name string) (*Agent, error) {
	data, err := os.ReadFile(filepath.Join(s.agentDir(team, name), agentFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("agent", name)
		}
		return nil, apperr.Internal(err)
	}
	var a Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, apperr.Internal(fmt.Errorf("parse %s for agent %s: %w", agentFileName, name, err))
	}
	a.Team = team
	return &a, nil
}

// Find looks the name up in the shared scope first, then in every team.
func (s *Store) Find(name string) (*Agent, error) {
	if a, err := s.Get(name); err == nil {
		return a, nil
	}
	teams, err := s.ListTeams()
	if err != nil {
		return nil, err
	}
	for _, team := range teams {
		if a, err := s.GetScoped(team.Name, name); err == nil {
			return a, nil
		}
	}
	return nil, apperr.NotFound("agent", name)
}

// List returns all agents, shared first, then team-scoped, sorted by name
// within each scope.
func (s *Store) List() ([]*Agent, error) {
	agents, err := s.listDir("", s.paths.AgentsDir())
	if err != nil {
		return nil, err
	}
	teams, err := s.ListTeams()
	if err != nil {
		return nil, err
	}
	for _, team := range teams {
		teamAgents, err := s.listDir(team.Name, filepath.Join(s.paths.TeamDir(team.Name), "agents"))
		if err != nil {
			return nil, err
		}
		agents = append(agents, teamAgents...)
	}
	return agents, nil
}

func (s *Store) listDir(team, dir string) ([]*Agent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Internal(err)
	}
	var agents []*Agent
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		a, err := s.GetScoped(team, entry.Name())
		if err != nil {
			s.log.Warn("skipping unreadable agent",
				zap.String("agent", entry.Name()), zap.Error(err))
			continue
		}
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

// Save writes the agent definition, preserving unknown YAML keys from
// any existing document.
func (s *Store) Save(a *Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Team != "" {
		if _, err := s.GetTeam(a.Team); err != nil {
			return err
		}
	}
	dir := s.agentDir(a.Team, a.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Internal(err)
	}

	doc := map[string]any{}
	path := filepath.Join(dir, agentFileName)
	if existing, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(existing, &doc); err != nil {
			return apperr.Internal(fmt.Errorf("parse existing %s: %w", agentFileName, err))
		}
	}
	for _, key := range knownAgentKeys {
		delete(doc, key)
	}
	structBytes, err := yaml.Marshal(a)
	if err != nil {
		return apperr.Internal(err)
	}
	known := map[string]any{}
	if err := yaml.Unmarshal(structBytes, &known); err != nil {
		return apperr.Internal(err)
	}
	for k, v := range known {
		doc[k] = v
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := fsutil.WriteFileAtomic(path, out, 0o644); err != nil {
		return apperr.Internal(err)
	}
	s.log.Info("agent saved", zap.String("agent", a.Name), zap.String("team", a.Team))
	return nil
}

// Delete removes the agent's directory.
func (s *Store) Delete(team, name string) error {
	dir := s.agentDir(team, name)
	if _, err := os.Stat(filepath.Join(dir, agentFileName)); err != nil {
		return apperr.NotFound("agent", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperr.Internal(err)
	}
	s.log.Info("agent deleted", zap.String("agent", name), zap.String("team", team))
	return nil
}

// Prompt reads the agent's instruction file.
func (s *Store) Prompt(a *Agent) (string, error) {
	path := filepath.Join(s.agentDir(a.Team, a.Name), a.Instruction())
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.NotFound("instruction file", a.Instruction())
		}
		return "", apperr.Internal(err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", apperr.Invalidf("instruction file %s is empty", a.Instruction())
	}
	return prompt, nil
}

// SavePrompt writes the agent's instruction file.
func (s *Store) SavePrompt(a *Agent, body string) error {
	path := filepath.Join(s.agentDir(a.Team, a.Name), a.Instruction())
	if err := fsutil.WriteFileAtomic(path, []byte(body), 0o644); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// ListTeams returns all teams sorted by name.
func (s *Store) ListTeams() ([]*Team, error) {
	entries, err := os.ReadDir(s.paths.TeamsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Internal(err)
	}
	var teams []*Team
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		team, err := s.GetTeam(entry.Name())
		if err != nil {
			s.log.Warn("skipping unreadable team",
				zap.String("team", entry.Name()), zap.Error(err))
			continue
		}
		teams = append(teams, team)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

// GetTeam loads one team config.
func (s *Store) GetTeam(name string) (*Team, error) {
	data, err := os.ReadFile(filepath.Join(s.paths.TeamDir(name), teamFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("team", name)
		}
		return nil, apperr.Internal(err)
	}
	var team Team
	if err := yaml.Unmarshal(data, &team); err != nil {
		return nil, apperr.Internal(fmt.Errorf("parse %s: %w", teamFileName, err))
	}
	if team.Name == "" {
		team.Name = name
	}
	return &team, nil
}

// SaveTeam writes a team config, creating the team directory on first use.
func (s *Store) SaveTeam(team *Team) error {
	if err := paths.ValidateTeamName(team.Name); err != nil {
		return err
	}
	dir := s.paths.TeamDir(team.Name)
	if err := os.MkdirAll(filepath.Join(dir, "agents"), 0o755); err != nil {
		return apperr.Internal(err)
	}
	out, err := yaml.Marshal(team)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, teamFileName), out, 0o644); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// DeleteTeam removes the team and all of its agents.
func (s *Store) DeleteTeam(name string) error {
	if _, err := s.GetTeam(name); err != nil {
		return err
	}
	if err := os.RemoveAll(s.paths.TeamDir(name)); err != nil {
		return apperr.Internal(err)
	}
	s.log.Info("team deleted", zap.String("team", name))
	return nil
}

// RenameTeam moves a team directory and rewrites its config name.
func (s *Store) RenameTeam(oldName, newName string) error {
	if err := paths.ValidateTeamName(newName); err != nil {
		return err
	}
	team, err := s.GetTeam(oldName)
	if err != nil {
		return err
	}
	newDir := s.paths.TeamDir(newName)
	if _, err := os.Stat(newDir); err == nil {
		return apperr.AlreadyExists("team", newName)
	}
	if err := os.Rename(s.paths.TeamDir(oldName), newDir); err != nil {
		return apperr.Internal(err)
	}
	team.Name = newName
	return s.SaveTeam(team)
}

// EventTriggers returns the trigger set of all enabled event agents.
// Part of the event dispatcher's TriggerSource contract.
func (s *Store) EventTriggers() []events.AgentTrigger {
	agents, err := s.List()
	if err != nil {
		s.log.Error("listing agents for event triggers", zap.Error(err))
		return nil
	}
	var out []events.AgentTrigger
	for _, a := range agents {
		if a.Kind != KindEvent || !a.Enabled || a.EventTrigger == nil {
			continue
		}
		out = append(out, events.AgentTrigger{Agent: a.Name, Trigger: *a.EventTrigger})
	}
	return out
}
