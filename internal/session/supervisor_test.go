package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

// fakeTmux scripts tmux invocations for supervisor tests.
type fakeTmux struct {
	calls    [][]string
	sessions map[string]bool
	inMode   bool
}

func newFakeTmux(sessions ...string) *fakeTmux {
	f := &fakeTmux{sessions: make(map[string]bool)}
	for _, s := range sessions {
		f.sessions[s] = true
	}
	return f
}

func (f *fakeTmux) run(_ context.Context, args ...string) (string, string, error) {
	f.calls = append(f.calls, args)
	switch args[0] {
	case "list-sessions":
		if len(f.sessions) == 0 {
			return "", "no server running on /tmp/tmux-0/default", errors.New("exit status 1")
		}
		var b strings.Builder
		for name := range f.sessions {
			b.WriteString(name + "\n")
		}
		return b.String(), "", nil
	case "has-session":
		if f.sessions[args[2]] {
			return "", "", nil
		}
		return "", "can't find session", errors.New("exit status 1")
	case "new-session":
		f.sessions[args[3]] = true
		return "", "", nil
	case "kill-session":
		delete(f.sessions, args[2])
		return "", "", nil
	case "display-message":
		if f.inMode {
			return "1\n", "", nil
		}
		return "0\n", "", nil
	case "capture-pane":
		return "pane contents\n", "", nil
	}
	return "", "", nil
}

func (f *fakeTmux) commandsIssued() []string {
	var out []string
	for _, call := range f.calls {
		out = append(out, call[0])
	}
	return out
}

func newTestSupervisor(f *fakeTmux) *Supervisor {
	return NewSupervisor(&Tmux{run: f.run}, nil)
}

func TestKillProtectedNeverReachesTmux(t *testing.T) {
	f := newFakeTmux("communicator")
	s := newTestSupervisor(f)

	err := s.Kill(context.Background(), "communicator")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeProtected, apperr.From(err).Code)
	assert.Empty(t, f.calls, "protected kill must not issue any tmux command")
}

func TestKillMissingSession(t *testing.T) {
	s := newTestSupervisor(newFakeTmux())
	err := s.Kill(context.Background(), "agent-ralph-nova")
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)
}

func TestKillRemovesLabel(t *testing.T) {
	f := newFakeTmux("agent-ralph-nova")
	s := newTestSupervisor(f)
	_, err := s.SetLabel(context.Background(), "agent-ralph-nova", "billing work")
	require.NoError(t, err)

	require.NoError(t, s.Kill(context.Background(), "agent-ralph-nova"))
	_, ok := s.Label("agent-ralph-nova")
	assert.False(t, ok)
}

func TestCreateValidation(t *testing.T) {
	f := newFakeTmux("taken")
	s := newTestSupervisor(f)

	err := s.Create(context.Background(), "Bad.Name", "", "", nil)
	assert.Equal(t, apperr.CodeInvalid, apperr.From(err).Code)

	err = s.Create(context.Background(), "taken", "", "", nil)
	assert.Equal(t, apperr.CodeAlreadyExists, apperr.From(err).Code)
}

func TestCreateExportsEnvSorted(t *testing.T) {
	f := newFakeTmux()
	s := newTestSupervisor(f)

	err := s.Create(context.Background(), "agent-ralph-nova", "claude", "/work", map[string]string{
		"ZED": "z", "ALPHA": "it's"})
	require.NoError(t, err)

	var newSession []string
	for _, call := range f.calls {
		if call[0] == "new-session" {
			newSession = call
		}
	}
	require.NotNil(t, newSession)
	cmd := newSession[len(newSession)-1]
	assert.Equal(t, `export ALPHA='it'\''s'; export ZED='z'; claude`, cmd)
	assert.Contains(t, newSession, "/work")
}

func TestCreateRalphPicksUnusedName(t *testing.T) {
	f := newFakeTmux(RalphSession("ziggy"))
	s := newTestSupervisor(f)

	name, err := s.CreateRalph(context.Background(), "claude", "", nil)
	require.NoError(t, err)
	assert.Equal(t, RalphSession("nova"), name)
}

func TestListEmptyOnColdServer(t *testing.T) {
	s := newTestSupervisor(newFakeTmux())
	infos, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestListClassifiesAndAttachesLabels(t *testing.T) {
	f := newFakeTmux("communicator", "agent-ralph-nova", "agent-alpha-dev")
	s := newTestSupervisor(f)
	_, err := s.SetLabel(context.Background(), "agent-ralph-nova", "refactor")
	require.NoError(t, err)

	infos, err := s.List(context.Background())
	require.NoError(t, err)
	byName := map[string]Info{}
	for _, info := range infos {
		byName[info.Name] = info
	}
	assert.Equal(t, KindInfrastructure, byName["communicator"].Kind)
	assert.Equal(t, KindSpawned, byName["agent-alpha-dev"].Kind)
	assert.Equal(t, KindRalph, byName["agent-ralph-nova"].Kind)
	assert.Equal(t, "refactor", byName["agent-ralph-nova"].Label)
}

func TestSendInputLiteralWithNewline(t *testing.T) {
	f := newFakeTmux("agent-ralph-nova")
	s := newTestSupervisor(f)

	require.NoError(t, s.SendInput(context.Background(), "agent-ralph-nova", "ls\n", ModeLiteral))

	var sendCalls [][]string
	for _, call := range f.calls {
		if call[0] == "send-keys" {
			sendCalls = append(sendCalls, call)
		}
	}
	require.Len(t, sendCalls, 2)
	assert.Contains(t, sendCalls[0], "-l")
	assert.Contains(t, sendCalls[0], "ls")
	assert.Equal(t, "C-m", sendCalls[1][len(sendCalls[1])-1])
}

func TestSendInputExitsCopyModeFirst(t *testing.T) {
	f := newFakeTmux("agent-ralph-nova")
	f.inMode = true
	s := newTestSupervisor(f)

	require.NoError(t, s.SendInput(context.Background(), "agent-ralph-nova", "x", ModeLiteral))

	cmds := f.commandsIssued()
	// has-session, display-message, send-keys(q), send-keys(-l x)
	require.GreaterOrEqual(t, len(cmds), 4)
	assert.Equal(t, "display-message", cmds[1])
	assert.Equal(t, "q", f.calls[2][len(f.calls[2])-1])
}

func TestSendInputKeyMode(t *testing.T) {
	f := newFakeTmux("agent-ralph-nova")
	s := newTestSupervisor(f)

	require.NoError(t, s.SendInput(context.Background(), "agent-ralph-nova", "ArrowUp", ModeKey))
	last := f.calls[len(f.calls)-1]
	assert.Equal(t, "Up", last[len(last)-1])

	err := s.SendInput(context.Background(), "agent-ralph-nova", "NoSuchKey", ModeKey)
	assert.Equal(t, apperr.CodeInvalid, apperr.From(err).Code)
}

func TestSetLabelRules(t *testing.T) {
	f := newFakeTmux("agent-ralph-nova", "agent-alpha-dev")
	s := newTestSupervisor(f)
	ctx := context.Background()

	_, err := s.SetLabel(ctx, "agent-alpha-dev", "nope")
	assert.Equal(t, apperr.CodeInvalid, apperr.From(err).Code)

	_, err = s.SetLabel(ctx, "agent-ralph-gone", "nope")
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)

	_, err = s.SetLabel(ctx, "agent-ralph-nova", strings.Repeat("x", 31))
	assert.Equal(t, apperr.CodeInvalid, apperr.From(err).Code)

	_, err = s.SetLabel(ctx, "agent-ralph-nova", "bad!label")
	assert.Equal(t, apperr.CodeInvalid, apperr.From(err).Code)

	label, err := s.SetLabel(ctx, "agent-ralph-nova", "  shipping fix  ")
	require.NoError(t, err)
	assert.Equal(t, "shipping fix", label)

	// The window title mirrors the label.
	var renamed bool
	for _, call := range f.calls {
		if call[0] == "rename-window" && call[len(call)-1] == "ralph: shipping fix" {
			renamed = true
		}
	}
	assert.True(t, renamed)
}

func TestRenameWindowIsBestEffort(t *testing.T) {
	f := newFakeTmux("agent-ralph-nova")
	s := newTestSupervisor(f)
	// No assertion on error: the call must not propagate failures.
	s.RenameWindow(context.Background(), "agent-ralph-gone", "title")
}
