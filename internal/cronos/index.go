package cronos

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// runIndex mirrors RunLog documents into sqlite so history queries do
// not rescan the dated directories. The JSON files stay authoritative;
// the index is rebuilt from them at startup.
type runIndex struct {
	db *sqlx.DB
}

type runRow struct {
	RunID           string     `db:"run_id"`
	AgentName       string     `db:"agent_name"`
	Label           string     `db:"label"`
	StartedAt       time.Time  `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	Status          string     `db:"status"`
	DurationSecs    *float64   `db:"duration_secs"`
	ExitCode        *int       `db:"exit_code"`
	OutputFile      string     `db:"output_file"`
	Error           string     `db:"error"`
	Attempt         int        `db:"attempt"`
	Trigger         string     `db:"trigger"`
	SessionName     string     `db:"session_name"`
	CostUSD         *float64   `db:"cost_usd"`
	ResumeSessionID string     `db:"resume_session_id"`
}

func openRunIndex(path string) (*runIndex, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	idx := &runIndex{db: db}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init run index schema: %w", err)
	}
	return idx, nil
}

func (i *runIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		status TEXT NOT NULL,
		duration_secs REAL,
		exit_code INTEGER,
		output_file TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 1,
		"trigger" TEXT NOT NULL DEFAULT '',
		session_name TEXT NOT NULL DEFAULT '',
		cost_usd REAL,
		resume_session_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_name, started_at DESC);
	`
	_, err := i.db.Exec(schema)
	return err
}

func (i *runIndex) close() error {
	return i.db.Close()
}

func (i *runIndex) upsert(r *RunLog) error {
	row := runRow{
		RunID:           r.RunID,
		AgentName:       r.AgentName,
		Label:           r.Label,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		Status:          string(r.Status),
		DurationSecs:    r.DurationSecs,
		ExitCode:        r.ExitCode,
		OutputFile:      r.OutputFile,
		Error:           r.Error,
		Attempt:         r.Attempt,
		Trigger:         string(r.Trigger),
		SessionName:     r.SessionName,
		CostUSD:         r.CostUSD,
		ResumeSessionID: r.ResumeSessionID,
	}
	_, err := i.db.NamedExec(`
		INSERT INTO runs (run_id, agent_name, label, started_at, completed_at, status,
			duration_secs, exit_code, output_file, error, attempt, "trigger",
			session_name, cost_usd, resume_session_id)
		VALUES (:run_id, :agent_name, :label, :started_at, :completed_at, :status,
			:duration_secs, :exit_code, :output_file, :error, :attempt, :trigger,
			:session_name, :cost_usd, :resume_session_id)
		ON CONFLICT(run_id) DO UPDATE SET
			completed_at = excluded.completed_at,
			status = excluded.status,
			duration_secs = excluded.duration_secs,
			exit_code = excluded.exit_code,
			error = excluded.error,
			attempt = excluded.attempt,
			cost_usd = excluded.cost_usd,
			resume_session_id = excluded.resume_session_id
	`, row)
	return err
}

func (i *runIndex) get(runID string) (*RunLog, error) {
	var row runRow
	err := i.db.Get(&row, `SELECT * FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toRunLog(), nil
}

func (i *runIndex) list(agent string, limit int) ([]*RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	var err error
	if agent != "" {
		err = i.db.Select(&rows,
			`SELECT * FROM runs WHERE agent_name = ? ORDER BY started_at DESC LIMIT ?`,
			agent, limit)
	} else {
		err = i.db.Select(&rows,
			`SELECT * FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*RunLog, 0, len(rows))
	for idx := range rows {
		out = append(out, rows[idx].toRunLog())
	}
	return out, nil
}

// recent returns the newest limit runs for an agent, oldest first, for
// success-rate windows.
func (i *runIndex) recent(agent string, limit int) ([]*RunLog, error) {
	runs, err := i.list(agent, limit)
	if err != nil {
		return nil, err
	}
	for l, r := 0, len(runs)-1; l < r; l, r = l+1, r-1 {
		runs[l], runs[r] = runs[r], runs[l]
	}
	return runs, nil
}

func (row *runRow) toRunLog() *RunLog {
	return &RunLog{
		RunID:           row.RunID,
		AgentName:       row.AgentName,
		Label:           row.Label,
		StartedAt:       row.StartedAt,
		CompletedAt:     row.CompletedAt,
		Status:          Status(row.Status),
		DurationSecs:    row.DurationSecs,
		ExitCode:        row.ExitCode,
		OutputFile:      row.OutputFile,
		Error:           row.Error,
		Attempt:         row.Attempt,
		Trigger:         Trigger(row.Trigger),
		SessionName:     row.SessionName,
		CostUSD:         row.CostUSD,
		ResumeSessionID: row.ResumeSessionID,
	}
}
