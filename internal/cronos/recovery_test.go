package cronos

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolan-sh/nolan/internal/common/paths"
)

// fakeDriver is an in-memory SessionDriver.
type fakeDriver struct {
	sessions map[string]bool
}

func newFakeDriver(names ...string) *fakeDriver {
	f := &fakeDriver{sessions: make(map[string]bool)}
	for _, n := range names {
		f.sessions[n] = true
	}
	return f
}

func (f *fakeDriver) NewSession(_ context.Context, name, _, _ string) error {
	f.sessions[name] = true
	return nil
}

func (f *fakeDriver) KillSession(_ context.Context, name string) error {
	delete(f.sessions, name)
	return nil
}

func (f *fakeDriver) HasSession(_ context.Context, name string) bool {
	return f.sessions[name]
}

func (f *fakeDriver) ListSessions(context.Context) ([]string, error) {
	var out []string
	for n := range f.sessions {
		out = append(out, n)
	}
	return out, nil
}

func newRecoveryFixture(t *testing.T, driver *fakeDriver) (*Recovery, *RunStore) {
	t.Helper()
	p, err := paths.Resolve(t.TempDir(), "", "")
	require.NoError(t, err)
	runs, err := NewRunStore(p)
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })
	rc := NewRecovery(driver, runs, nil)
	rc.pollInterval = 10 * time.Millisecond
	return rc, runs
}

func inflightRun(t *testing.T, runs *RunStore, agent, sessionName string) *RunLog {
	t.Helper()
	now := time.Now().UTC()
	r := &RunLog{
		RunID:       NewRunID(now, ""),
		AgentName:   agent,
		StartedAt:   now,
		Status:      StatusRunning,
		SessionName: sessionName,
	}
	logPath, _ := runs.RunPaths(agent, r.RunID, now)
	r.OutputFile = logPath
	require.NoError(t, runs.Write(r))
	return r
}

func TestRecoveryRewritesOrphanedRuns(t *testing.T) {
	rc, runs := newRecoveryFixture(t, newFakeDriver())
	r := inflightRun(t, runs, "alpha", "cron-alpha-dead")

	var out bytes.Buffer
	result, err := rc.Run(context.Background(), &out)
	require.NoError(t, err)
	assert.Equal(t, []string{r.RunID}, result.Interrupted)
	assert.Empty(t, result.Recovered)
	assert.Contains(t, out.String(), "interrupted=1")

	got, err := runs.Get(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "crash-recovered", got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestRecoveryMonitorsSurvivingRuns(t *testing.T) {
	driver := newFakeDriver("cron-alpha-live")
	rc, runs := newRecoveryFixture(t, driver)
	r := inflightRun(t, runs, "alpha", "cron-alpha-live")

	var out bytes.Buffer
	result, err := rc.Run(context.Background(), &out)
	require.NoError(t, err)
	assert.Equal(t, []string{r.RunID}, result.Recovered)
	assert.Empty(t, result.Interrupted)

	// The session finishes and drops its exit sentinel; the monitor
	// finalizes the run from it.
	exitFile := r.OutputFile[:len(r.OutputFile)-len(".log")] + ".exit"
	require.NoError(t, os.WriteFile(exitFile, []byte("0\n"), 0o600))
	delete(driver.sessions, "cron-alpha-live")
	rc.Wait()

	got, err := runs.Get(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
}

func TestRecoveryIdempotentOnQuiescentState(t *testing.T) {
	rc, runs := newRecoveryFixture(t, newFakeDriver())
	r := inflightRun(t, runs, "alpha", "cron-alpha-dead")

	var out bytes.Buffer
	_, err := rc.Run(context.Background(), &out)
	require.NoError(t, err)

	second, err := rc.Run(context.Background(), &out)
	require.NoError(t, err)
	assert.Empty(t, second.Recovered)
	assert.Empty(t, second.Interrupted)
	assert.Empty(t, second.Errors)

	got, err := runs.Get(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}
