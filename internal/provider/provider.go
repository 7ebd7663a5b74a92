// Package provider compiles abstract agent-run requests into concrete
// invocations of a coding-assistant CLI. The provider set is closed:
// adding one is a code change, not configuration.
package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nolan-sh/nolan/internal/common/stringutil"
)

// OutputFormat selects how the CLI emits its transcript.
type OutputFormat string

const (
	FormatText       OutputFormat = "text"
	FormatJSON       OutputFormat = "json"
	FormatStreamJSON OutputFormat = "stream-json"
)

// SpawnConfig is the abstract description of one agent run.
type SpawnConfig struct {
	Prompt             string
	Model              string
	WorkingDir         string
	SessionID          string
	Resume             bool
	OutputFormat       OutputFormat
	AllowedTools       []string
	AppendSystemPrompt string
	SkipPermissions    bool
	Verbose            bool
	Env                map[string]string
}

// NewSpawnConfig returns a SpawnConfig with the standard defaults.
func NewSpawnConfig(prompt, workingDir string) SpawnConfig {
	return SpawnConfig{
		Prompt:          prompt,
		Model:           "sonnet",
		WorkingDir:      workingDir,
		OutputFormat:    FormatStreamJSON,
		SkipPermissions: true,
		Verbose:         true,
	}
}

// Result is what a provider can recover from a finished run's log.
type Result struct {
	CostUSD         *float64 `json:"cost_usd,omitempty"`
	ResumeSessionID string   `json:"resume_session_id,omitempty"`
}

// Provider compiles SpawnConfigs for one supported CLI.
type Provider interface {
	Name() string
	IsAvailable() bool
	Executable() string
	MapModel(model string) string
	BuildArgv(cfg SpawnConfig) []string
	BuildShellLine(cfg SpawnConfig) string
	ParseOutput(logPath string) Result
	OutputFormatFlag(format OutputFormat) []string
	SupportsResume() bool
	ResumeFlag() string
	SessionIDFlag() string
}

// buildShellLine assembles the common pane command: env exports, cd into
// the working directory, then the quoted argv, joined by "; ".
func buildShellLine(cfg SpawnConfig, argv []string) string {
	var parts []string
	if len(cfg.Env) > 0 {
		keys := make([]string, 0, len(cfg.Env))
		for k := range cfg.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		exports := make([]string, 0, len(keys))
		for _, k := range keys {
			exports = append(exports, fmt.Sprintf("%s=%s", k, stringutil.ShellQuote(cfg.Env[k])))
		}
		parts = append(parts, "export "+strings.Join(exports, " "))
	}
	if cfg.WorkingDir != "" {
		parts = append(parts, "cd "+stringutil.ShellQuote(cfg.WorkingDir))
	}
	quoted := make([]string, 0, len(argv))
	for i, a := range argv {
		if i == 0 || !needsQuoting(a) {
			quoted = append(quoted, a)
			continue
		}
		quoted = append(quoted, stringutil.ShellQuote(a))
	}
	parts = append(parts, strings.Join(quoted, " "))
	return strings.Join(parts, "; ")
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '/' || c == ',' || c == '=' {
			continue
		}
		return true
	}
	return false
}
