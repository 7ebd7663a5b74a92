package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/stringutil"
)

// Info describes one live session.
type Info struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Label string `json:"label,omitempty"`
}

// Supervisor is the authoritative view of multiplexer sessions and the
// sole path for creating and destroying them.
type Supervisor struct {
	tmux   *Tmux
	labels *labelRegistry
	log    *logger.Logger
}

// NewSupervisor creates a Supervisor over the given driver.
func NewSupervisor(tmux *Tmux, log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{
		tmux:   tmux,
		labels: newLabelRegistry(),
		log:    log.WithFields(zap.String("component", "session-supervisor")),
	}
}

// List returns the current sessions, classified, with any labels attached.
func (s *Supervisor) List(ctx context.Context) ([]Info, error) {
	names, err := s.tmux.ListSessions(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	sort.Strings(names)
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info := Info{Name: name, Kind: Classify(name)}
		if label, ok := s.labels.get(name); ok {
			info.Label = label
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Exists reports whether the named session is live.
func (s *Supervisor) Exists(ctx context.Context, name string) bool {
	return s.tmux.HasSession(ctx, name)
}

// Create starts a new detached session running initialCommand in workDir
// with env exported into the pane.
func (s *Supervisor) Create(ctx context.Context, name, initialCommand, workDir string, env map[string]string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if s.tmux.HasSession(ctx, name) {
		return apperr.AlreadyExists("session", name)
	}
	command := initialCommand
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "export %s=%s; ", k, stringutil.ShellQuote(env[k]))
		}
		b.WriteString(command)
		command = b.String()
	}
	if err := s.tmux.NewSession(ctx, name, workDir, command); err != nil {
		return apperr.SpawnFailed(fmt.Sprintf("failed to create session %q", name), err)
	}
	s.log.Info("session created", zap.String("session", name), zap.String("kind", string(Classify(name))))
	return nil
}

// CreateRalph starts an interactive ralph session, drawing an unused name
// from the pool. Returns the session name.
func (s *Supervisor) CreateRalph(ctx context.Context, initialCommand, workDir string, env map[string]string) (string, error) {
	live, err := s.tmux.ListSessions(ctx)
	if err != nil {
		return "", apperr.Internal(err)
	}
	inUse := make(map[string]struct{}, len(live))
	for _, n := range live {
		inUse[n] = struct{}{}
	}
	for _, candidate := range ralphNamePool {
		name := RalphSession(candidate)
		if _, taken := inUse[name]; taken {
			continue
		}
		if err := s.Create(ctx, name, initialCommand, workDir, env); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", apperr.Conflict("ralph name pool exhausted")
}

// Kill destroys the named session and drops its label. Infrastructure
// sessions are refused before any multiplexer command is issued.
func (s *Supervisor) Kill(ctx context.Context, name string) error {
	if IsProtected(name) {
		return apperr.Protected(name)
	}
	if !s.tmux.HasSession(ctx, name) {
		return apperr.NotFound("session", name)
	}
	if err := s.tmux.KillSession(ctx, name); err != nil {
		return apperr.Internal(err)
	}
	s.labels.remove(name)
	s.log.Info("session killed", zap.String("session", name))
	return nil
}

// RenameWindow retitles the session's window. Failure is logged, never
// propagated, so label state stays authoritative.
func (s *Supervisor) RenameWindow(ctx context.Context, name, title string) {
	if err := s.tmux.RenameWindow(ctx, name, title); err != nil {
		s.log.Warn("window rename failed", zap.String("session", name), zap.Error(err))
	}
}

// Resize resizes the session's window.
func (s *Supervisor) Resize(ctx context.Context, name string, cols, rows int) error {
	if !s.tmux.HasSession(ctx, name) {
		return apperr.NotFound("session", name)
	}
	if err := s.tmux.ResizeWindow(ctx, name, cols, rows); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// SendInput dispatches payload to the session under the given mode.
// If the pane is in copy-mode it is exited first.
func (s *Supervisor) SendInput(ctx context.Context, name, payload string, mode InputMode) error {
	if !s.tmux.HasSession(ctx, name) {
		return apperr.NotFound("session", name)
	}
	s.exitCopyMode(ctx, name)
	switch mode {
	case ModeLiteral, "":
		return s.sendLiteral(ctx, name, payload)
	case ModeKey:
		code, err := MapKeyName(payload)
		if err != nil {
			return err
		}
		if err := s.tmux.SendKey(ctx, name, code); err != nil {
			return apperr.Internal(err)
		}
		return nil
	case ModeRaw:
		for _, part := range decodeRaw(payload) {
			var err error
			if part.key != "" {
				err = s.tmux.SendKey(ctx, name, part.key)
			} else {
				err = s.tmux.SendKeysLiteral(ctx, name, part.literal)
			}
			if err != nil {
				return apperr.Internal(err)
			}
		}
		return nil
	default:
		return apperr.Invalidf("unknown input mode %q", mode)
	}
}

func (s *Supervisor) sendLiteral(ctx context.Context, name, payload string) error {
	line := payload
	pressEnter := strings.HasSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\n")
	if line != "" {
		if err := s.tmux.SendKeysLiteral(ctx, name, line); err != nil {
			return apperr.Internal(err)
		}
	}
	if pressEnter {
		if err := s.tmux.SendKey(ctx, name, "C-m"); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

func (s *Supervisor) exitCopyMode(ctx context.Context, name string) {
	inMode, err := s.tmux.PaneInMode(ctx, name)
	if err != nil {
		s.log.Debug("pane mode check failed", zap.String("session", name), zap.Error(err))
		return
	}
	if inMode {
		if err := s.tmux.SendKey(ctx, name, "q"); err != nil {
			s.log.Warn("copy-mode exit failed", zap.String("session", name), zap.Error(err))
		}
	}
}

// Peek captures the last lines of the session's pane.
func (s *Supervisor) Peek(ctx context.Context, name string, lines int) (string, error) {
	if !s.tmux.HasSession(ctx, name) {
		return "", apperr.NotFound("session", name)
	}
	out, err := s.tmux.CapturePane(ctx, name, lines)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return out, nil
}

// SetLabel assigns a display label to a ralph session and mirrors it to
// the window title.
func (s *Supervisor) SetLabel(ctx context.Context, name, label string) (string, error) {
	if !IsRalphSession(name) {
		return "", apperr.Invalidf("labels are only supported for ralph sessions, got %q", name)
	}
	if !s.tmux.HasSession(ctx, name) {
		return "", apperr.NotFound("session", name)
	}
	clean, err := ValidateLabel(label)
	if err != nil {
		return "", err
	}
	s.labels.set(name, clean)
	s.RenameWindow(ctx, name, "ralph: "+clean)
	return clean, nil
}

// Label returns the label for a session, if any.
func (s *Supervisor) Label(name string) (string, bool) {
	return s.labels.get(name)
}

// ClearLabel removes a session's label.
func (s *Supervisor) ClearLabel(ctx context.Context, name string) {
	s.labels.remove(name)
	s.RenameWindow(ctx, name, name)
}

// Labels returns a snapshot of all assigned labels.
func (s *Supervisor) Labels() map[string]string {
	return s.labels.snapshot()
}
