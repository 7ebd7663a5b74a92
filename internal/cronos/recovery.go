package cronos

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
)

// Recovery reconciles run state with live sessions at startup, before
// the HTTP surface comes up. The scheduler re-arms and applies catch-up
// separately when it starts.
type Recovery struct {
	tmux SessionDriver
	runs *RunStore
	log  *logger.Logger

	pollInterval time.Duration
	wg           sync.WaitGroup
}

// RecoveryResult summarises one recovery pass.
type RecoveryResult struct {
	Recovered   []string `json:"recovered"`   // runs re-attached to live sessions
	Interrupted []string `json:"interrupted"` // runs rewritten as crash-recovered
	Errors      []string `json:"errors"`
}

func NewRecovery(tmux SessionDriver, runs *RunStore, log *logger.Logger) *Recovery {
	if log == nil {
		log = logger.Default()
	}
	return &Recovery{
		tmux:         tmux,
		runs:         runs,
		log:          log.WithFields(zap.String("component", "recovery")),
		pollInterval: 5 * time.Second,
	}
}

// Run performs one recovery pass and writes the summary to w (stderr in
// production). Running twice on a quiescent system is a no-op.
func (rc *Recovery) Run(ctx context.Context, w io.Writer) (*RecoveryResult, error) {
	result := &RecoveryResult{}

	if err := rc.runs.Reindex(); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("reindex: %v", err))
	}

	sessions, err := rc.tmux.ListSessions(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("listing sessions: %v", err))
	}
	alive := make(map[string]struct{}, len(sessions))
	for _, name := range sessions {
		alive[name] = struct{}{}
	}

	inflight, err := rc.runs.InFlight()
	if err != nil {
		return result, err
	}
	for _, r := range inflight {
		if r.SessionName != "" {
			if _, ok := alive[r.SessionName]; ok {
				result.Recovered = append(result.Recovered, r.RunID)
				rc.monitor(ctx, r)
				continue
			}
		}
		// The process died under the run. The orphaned session, if
		// any survives under another name, is left intact for
		// inspection.
		now := time.Now().UTC()
		r.Status = StatusCancelled
		r.Error = "crash-recovered"
		r.CompletedAt = &now
		if err := rc.runs.Write(r); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("finalizing %s: %v", r.RunID, err))
			continue
		}
		result.Interrupted = append(result.Interrupted, r.RunID)
	}

	fmt.Fprintf(w, "recovery: recovered=%d interrupted=%d errors=%d\n",
		len(result.Recovered), len(result.Interrupted), len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(w, "recovery error: %s\n", e)
	}
	rc.log.Info("recovery pass complete",
		zap.Int("recovered", len(result.Recovered)),
		zap.Int("interrupted", len(result.Interrupted)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// monitor watches a surviving run session and finalizes its RunLog from
// the exit sentinel once the session ends.
func (rc *Recovery) monitor(ctx context.Context, r *RunLog) {
	exitFile := strings.TrimSuffix(r.OutputFile, ".log") + ".exit"
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		ticker := time.NewTicker(rc.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				code, done := readExitFile(exitFile)
				if !done && rc.tmux.HasSession(ctx, r.SessionName) {
					continue
				}
				now := time.Now().UTC()
				r.CompletedAt = &now
				duration := now.Sub(r.StartedAt).Seconds()
				r.DurationSecs = &duration
				if done {
					r.ExitCode = &code
					if code == 0 {
						r.Status = StatusSuccess
					} else {
						r.Status = StatusFailed
						r.Error = fmt.Sprintf("exited with code %d", code)
					}
				} else {
					r.Status = StatusFailed
					r.Error = "session ended without reporting an exit code"
				}
				if err := rc.runs.Write(r); err != nil {
					rc.log.Error("finalizing recovered run",
						zap.String("run_id", r.RunID), zap.Error(err))
				}
				return
			}
		}
	}()
}

// Wait blocks until all monitor goroutines finish. Used by tests and
// shutdown.
func (rc *Recovery) Wait() {
	rc.wg.Wait()
}
