package cronos

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolan-sh/nolan/internal/common/paths"
)

func newTestRunStore(t *testing.T) *RunStore {
	t.Helper()
	p, err := paths.Resolve(t.TempDir(), "", "")
	require.NoError(t, err)
	s, err := NewRunStore(p)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRunIDFromClock(t *testing.T) {
	ts := time.Date(2026, 8, 26, 9, 5, 42, 0, time.UTC)
	id := NewRunID(ts, "")
	assert.True(t, strings.HasPrefix(id, "090542-"), id)
}

func TestNewRunIDFromLabel(t *testing.T) {
	ts := time.Now()
	id := NewRunID(ts, "Fix The Build!")
	assert.True(t, strings.HasPrefix(id, "fix-the-build-"), id)

	long := NewRunID(ts, strings.Repeat("x", 80))
	prefix := long[:strings.LastIndex(long, "-")]
	assert.LessOrEqual(t, len(prefix), 30)
}

func TestRunStoreRoundTrip(t *testing.T) {
	s := newTestRunStore(t)
	started := time.Now().UTC()
	r := &RunLog{
		RunID:     NewRunID(started, ""),
		AgentName: "alpha",
		StartedAt: started,
		Status:    StatusRunning,
		Trigger:   TriggerScheduled,
		Attempt:   1,
	}
	require.NoError(t, s.Write(r))

	got, err := s.Get(r.RunID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alpha", got.AgentName)
	assert.Equal(t, StatusRunning, got.Status)

	done := time.Now().UTC()
	r.Status = StatusSuccess
	r.CompletedAt = &done
	require.NoError(t, s.Write(r))

	got, err = s.Get(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestRunStoreListFiltersByAgent(t *testing.T) {
	s := newTestRunStore(t)
	base := time.Now().UTC()
	for i, agent := range []string{"alpha", "beta", "alpha"} {
		r := &RunLog{
			RunID:     NewRunID(base.Add(time.Duration(i)*time.Second), ""),
			AgentName: agent,
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Status:    StatusSuccess,
		}
		require.NoError(t, s.Write(r))
	}
	alpha, err := s.List("alpha", 10)
	require.NoError(t, err)
	assert.Len(t, alpha, 2)

	all, err := s.List("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunStoreRecentIsOldestFirst(t *testing.T) {
	s := newTestRunStore(t)
	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		r := &RunLog{
			RunID:     NewRunID(base.Add(time.Duration(i)*time.Second), ""),
			AgentName: "alpha",
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Status:    StatusSuccess,
		}
		require.NoError(t, s.Write(r))
		ids = append(ids, r.RunID)
	}

	oldestFirst, err := s.Recent("alpha", 10)
	require.NoError(t, err)
	require.Len(t, oldestFirst, 3)
	for i, r := range oldestFirst {
		assert.Equal(t, ids[i], r.RunID)
	}

	// A window keeps the newest runs even in oldest-first order.
	windowed, err := s.Recent("alpha", 2)
	require.NoError(t, err)
	require.Len(t, windowed, 2)
	assert.Equal(t, ids[1], windowed[0].RunID)
	assert.Equal(t, ids[2], windowed[1].RunID)
}

func TestInFlightFindsOnlyRunning(t *testing.T) {
	s := newTestRunStore(t)
	now := time.Now().UTC()
	running := &RunLog{RunID: NewRunID(now, ""), AgentName: "a", StartedAt: now, Status: StatusRunning}
	finished := &RunLog{RunID: NewRunID(now.Add(time.Second), ""), AgentName: "a", StartedAt: now, Status: StatusSuccess, CompletedAt: &now}
	require.NoError(t, s.Write(running))
	require.NoError(t, s.Write(finished))

	inflight, err := s.InFlight()
	require.NoError(t, err)
	require.Len(t, inflight, 1)
	assert.Equal(t, running.RunID, inflight[0].RunID)
}

func TestReindexRebuildsFromFiles(t *testing.T) {
	s := newTestRunStore(t)
	now := time.Now().UTC()
	r := &RunLog{RunID: NewRunID(now, ""), AgentName: "a", StartedAt: now, Status: StatusFailed}
	require.NoError(t, s.Write(r))

	// The JSON files stay authoritative over the index.
	require.NoError(t, s.Reindex())
	got, err := s.Get(r.RunID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
}
