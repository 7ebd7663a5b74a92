package provider

import (
	"bufio"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
)

// Claude drives the claude CLI.
//
// Flags used:
//   - `-p <prompt>` prompt to send
//   - `--model <model>` model selection (opus, sonnet, haiku)
//   - `--dangerously-skip-permissions`
//   - `--verbose`
//   - `--output-format stream-json|json|text`
//   - `--session-id <id>` / `--continue` resume semantics
//   - `--allowedTools a,b,c`
//   - `--append-system-prompt <prompt>`
type Claude struct{}

// NewClaude returns the claude provider.
func NewClaude() *Claude { return &Claude{} }

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Executable() string { return "claude" }

func (c *Claude) IsAvailable() bool {
	_, err := exec.LookPath("claude")
	return err == nil
}

func (c *Claude) MapModel(model string) string {
	switch strings.ToLower(model) {
	case "opus", "claude-opus", "claude-4-opus":
		return "opus"
	case "sonnet", "claude-sonnet", "claude-4-sonnet":
		return "sonnet"
	case "haiku", "claude-haiku", "claude-4-haiku":
		return "haiku"
	default:
		return model
	}
}

func (c *Claude) BuildArgv(cfg SpawnConfig) []string {
	argv := []string{c.Executable(), "-p", cfg.Prompt}
	if cfg.SkipPermissions {
		argv = append(argv, "--dangerously-skip-permissions")
	}
	if cfg.Verbose {
		argv = append(argv, "--verbose")
	}
	argv = append(argv, c.OutputFormatFlag(cfg.OutputFormat)...)
	argv = append(argv, "--model", c.MapModel(cfg.Model))
	if cfg.SessionID != "" {
		argv = append(argv, c.SessionIDFlag(), cfg.SessionID)
	}
	if cfg.Resume {
		argv = append(argv, c.ResumeFlag())
	}
	if len(cfg.AllowedTools) > 0 {
		argv = append(argv, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if cfg.AppendSystemPrompt != "" {
		argv = append(argv, "--append-system-prompt", cfg.AppendSystemPrompt)
	}
	return argv
}

func (c *Claude) BuildShellLine(cfg SpawnConfig) string {
	return buildShellLine(cfg, c.BuildArgv(cfg))
}

// claudeResultLine is the terminal record of a stream-json transcript.
type claudeResultLine struct {
	Type         string   `json:"type"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	SessionID    string   `json:"session_id"`
}

// ParseOutput scans the log in reverse for the last record with
// type "result" and lifts the cost and session id out of it.
func (c *Claude) ParseOutput(logPath string) Result {
	var result Result
	lines, err := readLines(logPath)
	if err != nil {
		return result
	}
	for i := len(lines) - 1; i >= 0; i-- {
		var entry claudeResultLine
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			continue
		}
		if entry.Type == "result" {
			result.CostUSD = entry.TotalCostUSD
			result.ResumeSessionID = entry.SessionID
			break
		}
	}
	return result
}

func (c *Claude) OutputFormatFlag(format OutputFormat) []string {
	switch format {
	case FormatJSON:
		return []string{"--output-format", "json"}
	case FormatText:
		return []string{"--output-format", "text"}
	default:
		return []string{"--output-format", "stream-json"}
	}
}

func (c *Claude) SupportsResume() bool { return true }

func (c *Claude) ResumeFlag() string { return "--continue" }

func (c *Claude) SessionIDFlag() string { return "--session-id" }

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
