package provider

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// OpenCode drives the opencode CLI, a multi-provider coding assistant.
//
// Conventions differ from claude: `run <message>` subcommand, `-m` takes
// provider/model form, `-s` selects a session and `--continue` resumes
// the last one. There are no output-format, permission or system-prompt
// flags; the transcript goes to stdout as-is.
type OpenCode struct {
	executable string
}

// NewOpenCode returns the opencode provider, preferring the standard
// install location under $HOME.
func NewOpenCode() *OpenCode {
	exe := "opencode"
	if home := os.Getenv("HOME"); home != "" {
		exe = filepath.Join(home, ".opencode", "bin", "opencode")
	}
	return &OpenCode{executable: exe}
}

func (o *OpenCode) Name() string { return "opencode" }

func (o *OpenCode) Executable() string { return o.executable }

func (o *OpenCode) IsAvailable() bool {
	if _, err := os.Stat(o.executable); err == nil {
		return true
	}
	_, err := exec.LookPath("opencode")
	return err == nil
}

// MapModel translates canonical model names to provider/model form.
// Names already carrying a provider prefix pass through; anything else
// defaults to the anthropic namespace.
func (o *OpenCode) MapModel(model string) string {
	switch strings.ToLower(model) {
	case "opus", "claude-opus", "claude-4-opus":
		return "anthropic/claude-4-opus"
	case "sonnet", "claude-sonnet", "claude-4-sonnet":
		return "anthropic/claude-4-sonnet"
	case "haiku", "claude-haiku", "claude-4-haiku":
		return "anthropic/claude-4-haiku"
	}
	if strings.Contains(model, "/") {
		return model
	}
	return "anthropic/" + model
}

func (o *OpenCode) BuildArgv(cfg SpawnConfig) []string {
	argv := []string{o.executable, "run", cfg.Prompt, "-m", o.MapModel(cfg.Model)}
	if cfg.SessionID != "" {
		argv = append(argv, o.SessionIDFlag(), cfg.SessionID)
	}
	if cfg.Resume {
		argv = append(argv, o.ResumeFlag())
	}
	return argv
}

func (o *OpenCode) BuildShellLine(cfg SpawnConfig) string {
	return buildShellLine(cfg, o.BuildArgv(cfg))
}

// ParseOutput is heuristic. The assumed shape is newline-delimited JSON
// where some trailing object carries a numeric "cost" and/or a string
// "session_id"; the scan stops at the first (from the end) object that
// yields either.
func (o *OpenCode) ParseOutput(logPath string) Result {
	var result Result
	lines, err := readLines(logPath)
	if err != nil {
		return result
	}
	for i := len(lines) - 1; i >= 0; i-- {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(lines[i]), &obj); err != nil {
			continue
		}
		if raw, ok := obj["cost"]; ok {
			var cost float64
			if err := json.Unmarshal(raw, &cost); err == nil {
				result.CostUSD = &cost
			}
		}
		if raw, ok := obj["session_id"]; ok {
			var sid string
			if err := json.Unmarshal(raw, &sid); err == nil {
				result.ResumeSessionID = sid
			}
		}
		if result.CostUSD != nil || result.ResumeSessionID != "" {
			break
		}
	}
	return result
}

func (o *OpenCode) OutputFormatFlag(OutputFormat) []string { return nil }

func (o *OpenCode) SupportsResume() bool { return true }

func (o *OpenCode) ResumeFlag() string { return "--continue" }

func (o *OpenCode) SessionIDFlag() string { return "-s" }
