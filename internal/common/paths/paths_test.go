package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAgentName(t *testing.T) {
	for _, ok := range []string{"a", "alpha", "review_bot", "team-2-lead", "x9"} {
		assert.NoError(t, ValidateAgentName(ok), ok)
	}
	for _, bad := range []string{"", "Alpha", "9lives", "-lead", "a b", "a/b", "../etc", "a" + strings.Repeat("x", 70)} {
		assert.Error(t, ValidateAgentName(bad), bad)
	}
}

func TestResolveCreatesLayout(t *testing.T) {
	root := t.TempDir()
	p, err := Resolve(root, "", "")
	require.NoError(t, err)
	assert.Equal(t, root, p.DataRoot)

	for _, dir := range []string{
		p.AgentsDir(),
		p.TeamsDir(),
		p.StateDir(),
		p.SchedulerStateDir(),
		p.RunsRoot(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestResolveDefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	p, err := Resolve("", "", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, DefaultDirName), p.DataRoot)
}

func TestRunsDirIsDated(t *testing.T) {
	p, err := Resolve(t.TempDir(), "", "")
	require.NoError(t, err)
	ts := time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join(p.RunsRoot(), "2026-08-26"), p.RunsDir(ts))
}
