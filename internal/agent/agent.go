// Package agent holds the on-disk agent and team model. Agents are YAML
// documents under the data root; unknown keys survive a load/save cycle.
package agent

import (
	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/events"
)

// Kind classifies how an agent is dispatched.
type Kind string

const (
	KindCron        Kind = "cron"
	KindEvent       Kind = "event"
	KindInteractive Kind = "interactive"
)

// CatchUpPolicy decides how missed cron firings are handled at startup.
type CatchUpPolicy string

const (
	CatchUpSkip    CatchUpPolicy = "skip"
	CatchUpRunOnce CatchUpPolicy = "run-once"
	CatchUpRunAll  CatchUpPolicy = "run-all"
)

// DefaultInstructionFile is the prompt body read when an agent does not
// name its own.
const DefaultInstructionFile = "CLAUDE.md"

// Guardrails are restrictions injected into the child's system prompt
// and argv.
type Guardrails struct {
	AllowedTools      []string `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	ForbiddenPaths    []string `yaml:"forbidden_paths,omitempty" json:"forbidden_paths,omitempty"`
	MaxFileEdits      int      `yaml:"max_file_edits,omitempty" json:"max_file_edits,omitempty"`
	ExtraSystemPrompt string   `yaml:"extra_system_prompt,omitempty" json:"extra_system_prompt,omitempty"`
}

// RetryPolicy controls re-dispatch of failed runs.
type RetryPolicy struct {
	MaxAttempts int  `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BackoffSecs int  `yaml:"backoff_secs,omitempty" json:"backoff_secs,omitempty"`
	Exponential bool `yaml:"exponential,omitempty" json:"exponential,omitempty"`
}

// Agent is one named configuration that, when dispatched, runs a coding
// assistant CLI against a prompt.
type Agent struct {
	Name             string          `yaml:"name" json:"name"`
	Kind             Kind            `yaml:"kind" json:"kind"`
	Model            string          `yaml:"model,omitempty" json:"model,omitempty"`
	WorkingDirectory string          `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	Enabled          bool            `yaml:"enabled" json:"enabled"`
	CLIProvider      string          `yaml:"cli_provider,omitempty" json:"cli_provider,omitempty"`
	Cron             string          `yaml:"cron,omitempty" json:"cron,omitempty"`
	Timezone         string          `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	CatchupPolicy    CatchUpPolicy   `yaml:"catchup_policy,omitempty" json:"catchup_policy,omitempty"`
	EventTrigger     *events.Trigger `yaml:"event_trigger,omitempty" json:"event_trigger,omitempty"`
	Guardrails       Guardrails      `yaml:"guardrails,omitempty" json:"guardrails,omitempty"`
	TimeoutSecs      int             `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`
	Serial           bool            `yaml:"serial,omitempty" json:"serial,omitempty"`
	Retry            *RetryPolicy    `yaml:"retry,omitempty" json:"retry,omitempty"`
	InstructionFile  string          `yaml:"instruction_file,omitempty" json:"instruction_file,omitempty"`

	// Team is the owning team for team-scoped agents; empty for shared
	// agents. Derived from the directory, never serialised.
	Team string `yaml:"-" json:"team,omitempty"`
}

// Team is a named group of team-scoped agents.
type Team struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks the structural invariants of an agent definition.
// Cron-expression grammar is checked by the scheduler.
func (a *Agent) Validate() error {
	if err := paths.ValidateAgentName(a.Name); err != nil {
		return err
	}
	switch a.Kind {
	case KindCron:
		if a.Cron == "" {
			return apperr.Invalid("cron agents require a cron expression")
		}
	case KindEvent:
		if a.EventTrigger == nil {
			return apperr.Invalid("event agents require an event_trigger")
		}
		if !events.ValidKind(a.EventTrigger.Kind) {
			return apperr.Invalidf("unknown event kind %q", a.EventTrigger.Kind)
		}
		if a.EventTrigger.DebounceMS < 0 {
			return apperr.Invalid("event_trigger.debounce_ms must not be negative")
		}
	case KindInteractive:
	default:
		return apperr.Invalidf("unknown agent kind %q", a.Kind)
	}
	switch a.CatchupPolicy {
	case "", CatchUpSkip, CatchUpRunOnce, CatchUpRunAll:
	default:
		return apperr.Invalidf("unknown catchup_policy %q", a.CatchupPolicy)
	}
	switch a.CLIProvider {
	case "", "claude", "opencode":
	default:
		return apperr.Invalidf("unknown cli_provider %q", a.CLIProvider)
	}
	if a.TimeoutSecs < 0 {
		return apperr.Invalid("timeout_secs must not be negative")
	}
	return nil
}

// Instruction returns the agent's instruction file name.
func (a *Agent) Instruction() string {
	if a.InstructionFile != "" {
		return a.InstructionFile
	}
	return DefaultInstructionFile
}

// Catchup returns the effective catch-up policy.
func (a *Agent) Catchup() CatchUpPolicy {
	if a.CatchupPolicy == "" {
		return CatchUpSkip
	}
	return a.CatchupPolicy
}
