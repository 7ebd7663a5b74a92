// Package cronos is the agent execution plane: the run executor, the
// cron scheduler with catch-up and concurrency policy, the persisted run
// history, and the startup recovery coordinator.
package cronos

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/fsutil"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/common/stringutil"
)

// Status is a RunLog lifecycle state. Only "running" is non-terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Trigger records what caused a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerRetry     Trigger = "retry"
	TriggerCatchUp   Trigger = "catch-up"
	TriggerEvent     Trigger = "event"
)

// RunLog is the append-only record of one dispatch. It is written once
// when the run starts (completed_at null marks it in flight) and once
// more when it reaches a terminal status; never mutated afterwards.
type RunLog struct {
	RunID           string     `json:"run_id"`
	AgentName       string     `json:"agent_name"`
	Label           string     `json:"label,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Status          Status     `json:"status"`
	DurationSecs    *float64   `json:"duration_secs,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	OutputFile      string     `json:"output_file"`
	Error           string     `json:"error,omitempty"`
	Attempt         int        `json:"attempt,omitempty"`
	Trigger         Trigger    `json:"trigger,omitempty"`
	SessionName     string     `json:"session_name,omitempty"`
	CostUSD         *float64   `json:"cost_usd,omitempty"`
	ResumeSessionID string     `json:"resume_session_id,omitempty"`
}

// NewRunID allocates a run identifier: a sanitised label prefix when one
// is given, otherwise the start time, plus a short uuid suffix.
func NewRunID(now time.Time, label string) string {
	suffix := uuid.New().String()[:7]
	if label != "" {
		clean := stringutil.TruncateString(stringutil.SanitizeIdent(label), 30)
		if clean != "" {
			return clean + "-" + suffix
		}
	}
	return now.Format("150405") + "-" + suffix
}

// RunStore persists RunLogs as sibling JSON documents next to their
// captured output, under dated run directories, and mirrors them into
// the sqlite index for querying.
type RunStore struct {
	paths *paths.Paths
	index *runIndex
}

// NewRunStore opens the store and its index.
func NewRunStore(p *paths.Paths) (*RunStore, error) {
	idx, err := openRunIndex(filepath.Join(p.SchedulerStateDir(), "runs.db"))
	if err != nil {
		return nil, err
	}
	return &RunStore{paths: p, index: idx}, nil
}

// Close releases the index.
func (s *RunStore) Close() error {
	return s.index.close()
}

// RunPaths returns the log and JSON paths for a run started at ts.
func (s *RunStore) RunPaths(agent, runID string, ts time.Time) (logPath, jsonPath string) {
	dir := s.paths.RunsDir(ts)
	base := fmt.Sprintf("%s-%s", agent, runID)
	return filepath.Join(dir, base+".log"), filepath.Join(dir, base+".json")
}

// Write persists the RunLog JSON atomically and updates the index.
func (s *RunStore) Write(r *RunLog) error {
	_, jsonPath := s.RunPaths(r.AgentName, r.RunID, r.StartedAt)
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return apperr.Internal(err)
	}
	if err := fsutil.WriteFileAtomic(jsonPath, data, 0o600); err != nil {
		return apperr.Internal(err)
	}
	if err := s.index.upsert(r); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Get loads a RunLog by id.
func (s *RunStore) Get(runID string) (*RunLog, error) {
	r, err := s.index.get(runID)
	if err != nil {
		return nil, err
	}
	if r != nil {
		return r, nil
	}
	// Fall back to a directory scan for runs written before the index
	// existed.
	runs, err := s.scanAll()
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.RunID == runID {
			return run, nil
		}
	}
	return nil, apperr.NotFound("run", runID)
}

// List returns runs, most recent first, optionally filtered by agent.
func (s *RunStore) List(agent string, limit int) ([]*RunLog, error) {
	return s.index.list(agent, limit)
}

// Recent returns the newest limit runs oldest first, optionally
// filtered by agent. Health windows read history in this order.
func (s *RunStore) Recent(agent string, limit int) ([]*RunLog, error) {
	return s.index.recent(agent, limit)
}

// InFlight returns every run still marked running.
func (s *RunStore) InFlight() ([]*RunLog, error) {
	runs, err := s.scanAll()
	if err != nil {
		return nil, err
	}
	var out []*RunLog
	for _, r := range runs {
		if r.Status == StatusRunning {
			out = append(out, r)
		}
	}
	return out, nil
}

// OutputPath resolves a run's captured stdout file.
func (s *RunStore) OutputPath(r *RunLog) string {
	if r.OutputFile != "" {
		return r.OutputFile
	}
	logPath, _ := s.RunPaths(r.AgentName, r.RunID, r.StartedAt)
	return logPath
}

// Reindex rebuilds the sqlite index from the on-disk JSON documents.
// Idempotent; used at startup so the index never drifts from the files.
func (s *RunStore) Reindex() error {
	runs, err := s.scanAll()
	if err != nil {
		return err
	}
	for _, r := range runs {
		if err := s.index.upsert(r); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

// scanAll walks every dated run directory and parses the JSON documents.
func (s *RunStore) scanAll() ([]*RunLog, error) {
	root := s.paths.RunsRoot()
	days, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Internal(err)
	}
	var runs []*RunLog
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, day.Name()))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(root, day.Name(), entry.Name()))
			if err != nil {
				continue
			}
			var r RunLog
			if err := json.Unmarshal(data, &r); err != nil {
				continue
			}
			runs = append(runs, &r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}
