package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	p, err := paths.Resolve(t.TempDir(), "", "")
	require.NoError(t, err)
	return NewStore(p, nil)
}

func cronAgent(name string) *Agent {
	return &Agent{
		Name:        name,
		Kind:        KindCron,
		Model:       "sonnet",
		Enabled:     true,
		Cron:        "*/5 * * * *",
		TimeoutSecs: 300,
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	a := cronAgent("alpha")
	a.Guardrails = Guardrails{
		AllowedTools:   []string{"Bash", "Edit"},
		ForbiddenPaths: []string{"/etc"},
		MaxFileEdits:   10,
	}
	a.Retry = &RetryPolicy{MaxAttempts: 3, BackoffSecs: 5, Exponential: true}
	require.NoError(t, s.Save(a))

	got, err := s.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, a.Kind, got.Kind)
	assert.Equal(t, a.Cron, got.Cron)
	assert.Equal(t, a.Guardrails, got.Guardrails)
	assert.Equal(t, a.Retry, got.Retry)
	assert.Equal(t, a.TimeoutSecs, got.TimeoutSecs)
}

func TestSavePreservesUnknownKeys(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(cronAgent("alpha")))

	// Simulate a hand-edited file carrying keys this version ignores.
	path := filepath.Join(s.paths.AgentDir("alpha"), "agent.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := map[string]any{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	doc["custom_annotation"] = "keep me"
	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))

	a, err := s.Get("alpha")
	require.NoError(t, err)
	a.Model = "opus"
	require.NoError(t, s.Save(a))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	doc = map[string]any{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "keep me", doc["custom_annotation"])
	assert.Equal(t, "opus", doc["model"])
}

func TestSaveClearsDroppedKnownKeys(t *testing.T) {
	s := newTestStore(t)
	a := cronAgent("alpha")
	a.Timezone = "Europe/Berlin"
	require.NoError(t, s.Save(a))

	a, err := s.Get("alpha")
	require.NoError(t, err)
	a.Timezone = ""
	require.NoError(t, s.Save(a))

	got, err := s.Get("alpha")
	require.NoError(t, err)
	assert.Empty(t, got.Timezone)
}

func TestGetMissingAgent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("ghost")
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	s := newTestStore(t)

	bad := cronAgent("Bad Name")
	assert.Equal(t, apperr.CodeInvalid, apperr.From(s.Save(bad)).Code)

	noCron := &Agent{Name: "alpha", Kind: KindCron, Enabled: true}
	assert.Equal(t, apperr.CodeInvalid, apperr.From(s.Save(noCron)).Code)

	noTrigger := &Agent{Name: "alpha", Kind: KindEvent, Enabled: true}
	assert.Equal(t, apperr.CodeInvalid, apperr.From(s.Save(noTrigger)).Code)

	badKind := &Agent{Name: "alpha", Kind: "oneshot", Enabled: true}
	assert.Equal(t, apperr.CodeInvalid, apperr.From(s.Save(badKind)).Code)

	badTrigger := &Agent{Name: "alpha", Kind: KindEvent, Enabled: true,
		EventTrigger: &events.Trigger{Kind: "made-up"}}
	assert.Equal(t, apperr.CodeInvalid, apperr.From(s.Save(badTrigger)).Code)

	badProvider := cronAgent("alpha")
	badProvider.CLIProvider = "copilot"
	assert.Equal(t, apperr.CodeInvalid, apperr.From(s.Save(badProvider)).Code)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(cronAgent("alpha")))
	require.NoError(t, s.Delete("", "alpha"))
	_, err := s.Get("alpha")
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)

	err = s.Delete("", "alpha")
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)
}

func TestTeamScopedAgents(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTeam(&Team{Name: "platform", Description: "infra work"}))

	a := cronAgent("deploy")
	a.Team = "platform"
	require.NoError(t, s.Save(a))

	got, err := s.GetScoped("platform", "deploy")
	require.NoError(t, err)
	assert.Equal(t, "platform", got.Team)

	// Shared scope must not see it.
	_, err = s.Get("deploy")
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)

	// Find searches teams.
	found, err := s.Find("deploy")
	require.NoError(t, err)
	assert.Equal(t, "platform", found.Team)

	// Saving into an unknown team fails.
	b := cronAgent("other")
	b.Team = "ghosts"
	assert.Equal(t, apperr.CodeNotFound, apperr.From(s.Save(b)).Code)
}

func TestListCoversBothScopes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(cronAgent("shared-one")))
	require.NoError(t, s.SaveTeam(&Team{Name: "platform"}))
	a := cronAgent("scoped-one")
	a.Team = "platform"
	require.NoError(t, s.Save(a))

	agents, err := s.List()
	require.NoError(t, err)
	require.Len(t, agents, 2)
}

func TestRenameTeam(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTeam(&Team{Name: "old"}))
	a := cronAgent("worker")
	a.Team = "old"
	require.NoError(t, s.Save(a))

	require.NoError(t, s.RenameTeam("old", "new"))
	_, err := s.GetTeam("old")
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)
	got, err := s.GetScoped("new", "worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", got.Name)

	require.NoError(t, s.SaveTeam(&Team{Name: "blocker"}))
	require.NoError(t, s.SaveTeam(&Team{Name: "src"}))
	assert.Equal(t, apperr.CodeAlreadyExists, apperr.From(s.RenameTeam("src", "blocker")).Code)
}

func TestPromptReadsInstructionFile(t *testing.T) {
	s := newTestStore(t)
	a := cronAgent("alpha")
	require.NoError(t, s.Save(a))

	_, err := s.Prompt(a)
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)

	require.NoError(t, s.SavePrompt(a, "Review open pull requests.\n"))
	prompt, err := s.Prompt(a)
	require.NoError(t, err)
	assert.Equal(t, "Review open pull requests.", prompt)
}

func TestEventTriggers(t *testing.T) {
	s := newTestStore(t)
	e := &Agent{
		Name: "beta", Kind: KindEvent, Enabled: true,
		EventTrigger: &events.Trigger{Kind: events.KindFileChanged, DebounceMS: 500},
	}
	require.NoError(t, s.Save(e))
	disabled := &Agent{
		Name: "muted", Kind: KindEvent, Enabled: false,
		EventTrigger: &events.Trigger{Kind: events.KindGitPush},
	}
	require.NoError(t, s.Save(disabled))
	require.NoError(t, s.Save(cronAgent("alpha")))

	triggers := s.EventTriggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "beta", triggers[0].Agent)
	assert.Equal(t, events.KindFileChanged, triggers[0].Trigger.Kind)
}
