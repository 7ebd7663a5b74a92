package cronos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terminalRun(t *testing.T, runs *RunStore, agent string, status Status, offset time.Duration) {
	t.Helper()
	started := time.Now().UTC().Add(offset)
	done := started.Add(time.Second)
	r := &RunLog{
		RunID:       NewRunID(started, ""),
		AgentName:   agent,
		StartedAt:   started,
		CompletedAt: &done,
		Status:      status,
	}
	require.NoError(t, runs.Write(r))
}

func TestHealthClassification(t *testing.T) {
	s, _ := newTestScheduler(t, t.TempDir())

	for i := 0; i < 4; i++ {
		terminalRun(t, s.runs, "steady", StatusSuccess, time.Duration(-i)*time.Minute)
	}
	terminalRun(t, s.runs, "flaky", StatusSuccess, -time.Minute)
	terminalRun(t, s.runs, "flaky", StatusFailed, -2*time.Minute)
	for i := 0; i < 3; i++ {
		terminalRun(t, s.runs, "broken", StatusFailed, time.Duration(-i)*time.Minute)
	}

	report, err := s.Health(20)
	require.NoError(t, err)

	byName := make(map[string]AgentHealth)
	for _, h := range report.Agents {
		byName[h.Agent] = h
	}
	assert.Equal(t, HealthHealthy, byName["steady"].State)
	assert.Equal(t, HealthWarning, byName["flaky"].State)
	assert.Equal(t, HealthCritical, byName["broken"].State)
	assert.InDelta(t, 5.0/9.0, report.SuccessRate, 0.001)

	// Last status must come from the newest run, not the window's oldest.
	assert.Equal(t, StatusSuccess, byName["flaky"].LastStatus)
}

func TestHealthEmptyHistory(t *testing.T) {
	s, _ := newTestScheduler(t, t.TempDir())
	report, err := s.Health(20)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.Empty(t, report.Agents)
	assert.Equal(t, 0, report.ArmedSchedules)
}
