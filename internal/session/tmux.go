package session

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runFunc executes a tmux command and returns both output streams.
// Injected in tests so the supervisor can be exercised without a server.
type runFunc func(ctx context.Context, args ...string) (stdout, stderr string, err error)

func execTmux(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.String(), errBuf.String(), err
}

// Tmux is a thin driver over the tmux binary. All errors carry the
// multiplexer's stderr verbatim.
type Tmux struct {
	run runFunc
}

// NewTmux returns a driver that shells out to tmux.
func NewTmux() *Tmux {
	return &Tmux{run: execTmux}
}

// ListSessions returns the names of all live sessions. A cold server
// ("no server running") yields an empty list, not an error.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	out, stderr, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(stderr, "no server running") || strings.Contains(stderr, "No such file or directory") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %s", strings.TrimSpace(stderr))
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// HasSession reports whether the named session exists.
func (t *Tmux) HasSession(ctx context.Context, name string) bool {
	_, _, err := t.run(ctx, "has-session", "-t", name)
	return err == nil
}

// NewSession creates a detached session running command in workDir.
// Env pairs are exported inside the pane before command runs.
func (t *Tmux) NewSession(ctx context.Context, name, workDir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	if command != "" {
		args = append(args, "bash", "-c", command)
	}
	if _, stderr, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("tmux new-session: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// KillSession destroys the named session.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	if _, stderr, err := t.run(ctx, "kill-session", "-t", name); err != nil {
		return fmt.Errorf("tmux kill-session: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// SendKeysLiteral types payload into the session without key-name
// interpretation.
func (t *Tmux) SendKeysLiteral(ctx context.Context, name, payload string) error {
	if _, stderr, err := t.run(ctx, "send-keys", "-t", name, "-l", payload); err != nil {
		return fmt.Errorf("tmux send-keys: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// SendKey sends a named tmux key (C-m, Up, BSpace, ...).
func (t *Tmux) SendKey(ctx context.Context, name, key string) error {
	if _, stderr, err := t.run(ctx, "send-keys", "-t", name, key); err != nil {
		return fmt.Errorf("tmux send-keys: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// RenameWindow retitles the session's active window.
func (t *Tmux) RenameWindow(ctx context.Context, name, title string) error {
	if _, stderr, err := t.run(ctx, "rename-window", "-t", name, title); err != nil {
		return fmt.Errorf("tmux rename-window: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// ResizeWindow resizes the session's active window.
func (t *Tmux) ResizeWindow(ctx context.Context, name string, cols, rows int) error {
	if _, stderr, err := t.run(ctx, "resize-window", "-t", name,
		"-x", fmt.Sprintf("%d", cols), "-y", fmt.Sprintf("%d", rows)); err != nil {
		return fmt.Errorf("tmux resize-window: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// CapturePane returns the last lines of the session's pane. lines <= 0
// captures the visible screen only.
func (t *Tmux) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", name}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	out, stderr, err := t.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %s", strings.TrimSpace(stderr))
	}
	return out, nil
}

// PaneInMode reports whether the session's active pane is in copy-mode.
func (t *Tmux) PaneInMode(ctx context.Context, name string) (bool, error) {
	out, stderr, err := t.run(ctx, "display-message", "-p", "-t", name, "#{pane_in_mode}")
	if err != nil {
		return false, fmt.Errorf("tmux display-message: %s", strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(out) == "1", nil
}
