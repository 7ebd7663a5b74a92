package cronos

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/common/stringutil"
	"github.com/nolan-sh/nolan/internal/events"
	"github.com/nolan-sh/nolan/internal/provider"
)

// ProviderResolver selects the CLI provider for an agent.
type ProviderResolver func(a *agent.Agent) (provider.Provider, error)

// SessionDriver is the multiplexer surface the run path needs.
// *session.Tmux satisfies it.
type SessionDriver interface {
	NewSession(ctx context.Context, name, workDir, command string) error
	KillSession(ctx context.Context, name string) error
	HasSession(ctx context.Context, name string) bool
	ListSessions(ctx context.Context) ([]string, error)
}

// Request describes one dispatch handed to the executor.
type Request struct {
	Agent     *agent.Agent
	Trigger   Trigger
	Label     string
	Prompt    string // overrides the instruction file when set
	Resume    bool
	SessionID string
	// UseTmux runs the command inside a multiplexer session instead of
	// as a direct child, so the user can attach to a live run.
	UseTmux bool
}

type runHandle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	agent     string
}

// Executor runs compiled commands under a wall-clock timeout, captures
// both streams into the run's log file, and yields RunLogs.
type Executor struct {
	paths          *paths.Paths
	store          *agent.Store
	providerFor    ProviderResolver
	tmux           SessionDriver
	bus            events.Bus
	runs           *RunStore
	log            *logger.Logger
	defaultTimeout time.Duration
	pollInterval   time.Duration

	mu          sync.Mutex
	handles     map[string]*runHandle // run_id -> handle
	serialLocks map[string]*sync.Mutex
}

// NewExecutor wires the executor to its collaborators.
func NewExecutor(p *paths.Paths, store *agent.Store, resolver ProviderResolver,
	tmux SessionDriver, bus events.Bus, runs *RunStore,
	defaultTimeout time.Duration, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Default()
	}
	return &Executor{
		paths:          p,
		store:          store,
		providerFor:    resolver,
		tmux:           tmux,
		bus:            bus,
		runs:           runs,
		log:            log.WithFields(zap.String("component", "run-executor")),
		defaultTimeout: defaultTimeout,
		pollInterval:   2 * time.Second,
		handles:        make(map[string]*runHandle),
		serialLocks:    make(map[string]*sync.Mutex),
	}
}

// Execute dispatches one run, honouring the agent's serial and retry
// policy. The returned RunLog is terminal.
func (e *Executor) Execute(ctx context.Context, req Request) (*RunLog, error) {
	a := req.Agent
	if a.Serial {
		lock := e.serialLock(a.Name)
		if !lock.TryLock() {
			r := e.skippedRun(req)
			return r, apperr.Conflict(fmt.Sprintf("agent %q is running and opted into serial execution", a.Name))
		}
		defer lock.Unlock()
	}

	maxAttempts := 1
	backoff := time.Duration(0)
	exponential := false
	if a.Retry != nil && a.Retry.MaxAttempts > 1 {
		maxAttempts = a.Retry.MaxAttempts
		backoff = time.Duration(a.Retry.BackoffSecs) * time.Second
		exponential = a.Retry.Exponential
	}

	trigger := req.Trigger
	var last *RunLog
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last, err = e.runOnce(ctx, req, trigger, attempt)
		if err != nil {
			return last, err
		}
		if last.Status != StatusFailed || attempt == maxAttempts {
			break
		}
		wait := backoff
		if exponential {
			wait = backoff << (attempt - 1)
		}
		e.log.Info("retrying failed run",
			zap.String("agent", a.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return last, nil
		case <-time.After(wait):
		}
		trigger = TriggerRetry
	}
	return last, nil
}

func (e *Executor) serialLock(agentName string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.serialLocks[agentName]
	if !ok {
		lock = &sync.Mutex{}
		e.serialLocks[agentName] = lock
	}
	return lock
}

// skippedRun records a dispatch refused by the concurrency gate.
func (e *Executor) skippedRun(req Request) *RunLog {
	now := time.Now().UTC()
	r := &RunLog{
		RunID:       NewRunID(now, req.Label),
		AgentName:   req.Agent.Name,
		Label:       req.Label,
		StartedAt:   now,
		CompletedAt: &now,
		Status:      StatusSkipped,
		Trigger:     req.Trigger,
		Error:       "previous run still in progress",
		Attempt:     1,
	}
	if err := e.runs.Write(r); err != nil {
		e.log.Error("writing skipped run", zap.Error(err))
	}
	return r
}

func (e *Executor) runOnce(ctx context.Context, req Request, trigger Trigger, attempt int) (*RunLog, error) {
	a := req.Agent
	started := time.Now().UTC()
	runID := NewRunID(started, req.Label)
	logPath, _ := e.runs.RunPaths(a.Name, runID, started)

	prompt := req.Prompt
	if prompt == "" {
		var err error
		prompt, err = e.store.Prompt(a)
		if err != nil {
			return nil, err
		}
	}

	prov, err := e.providerFor(a)
	if err != nil {
		return nil, err
	}

	workDir := a.WorkingDirectory
	if workDir == "" {
		workDir = e.paths.WorkRoot
	}
	if workDir == "" {
		workDir = e.paths.DataRoot
	}

	cfg := provider.NewSpawnConfig(prompt, workDir)
	if a.Model != "" {
		cfg.Model = a.Model
	}
	cfg.AllowedTools = a.Guardrails.AllowedTools
	cfg.AppendSystemPrompt = guardrailPrompt(a.Guardrails)
	cfg.Resume = req.Resume
	cfg.SessionID = req.SessionID
	cfg.Env = e.runEnv(a, runID)

	timeout := e.defaultTimeout
	if a.TimeoutSecs > 0 {
		timeout = time.Duration(a.TimeoutSecs) * time.Second
	}

	r := &RunLog{
		RunID:      runID,
		AgentName:  a.Name,
		Label:      req.Label,
		StartedAt:  started,
		Status:     StatusRunning,
		OutputFile: logPath,
		Attempt:    attempt,
		Trigger:    trigger,
	}
	if req.UseTmux {
		r.SessionName = fmt.Sprintf("cron-%s-%s", a.Name, runID)
	}
	// First write marks the run in flight; recovery relies on it.
	if err := e.runs.Write(r); err != nil {
		return nil, err
	}
	e.publish(events.KindRunStarted, map[string]any{
		"agent": a.Name, "run_id": runID, "trigger": string(trigger),
	})
	rlog := e.log.WithAgent(a.Name).WithRunID(runID)
	rlog.Info("run started", zap.String("trigger", string(trigger)), zap.Int("attempt", attempt))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	handle := &runHandle{cancel: cancel, agent: a.Name}
	e.register(runID, handle)
	defer func() {
		cancel()
		e.unregister(runID)
	}()

	if req.UseTmux {
		err = e.runInTmux(runCtx, handle, prov, cfg, r)
	} else {
		err = e.runDirect(runCtx, handle, prov, cfg, r)
	}
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	}

	completed := time.Now().UTC()
	r.CompletedAt = &completed
	duration := completed.Sub(r.StartedAt).Seconds()
	r.DurationSecs = &duration

	// Lift cost and resume-session id out of the captured transcript.
	result := prov.ParseOutput(logPath)
	r.CostUSD = result.CostUSD
	r.ResumeSessionID = result.ResumeSessionID

	if err := e.runs.Write(r); err != nil {
		return nil, err
	}
	e.publish(events.KindRunFinished, map[string]any{
		"agent": a.Name, "run_id": runID, "status": string(r.Status),
	})
	rlog.Info("run finished",
		zap.String("status", string(r.Status)),
		zap.Float64("duration_secs", duration),
	)
	return r, nil
}

// runDirect spawns the provider as a direct child with piped streams.
// Both readers are joined before the caller writes the final RunLog.
func (e *Executor) runDirect(ctx context.Context, handle *runHandle,
	prov provider.Provider, cfg provider.SpawnConfig, r *RunLog) error {

	argv := prov.BuildArgv(cfg)
	if len(argv) == 0 {
		return apperr.SpawnFailed("provider produced an empty argv", nil)
	}
	if err := os.MkdirAll(filepath.Dir(r.OutputFile), 0o755); err != nil {
		return apperr.Internal(err)
	}
	logFile, err := os.OpenFile(r.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return apperr.Internal(err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperr.Internal(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperr.Internal(err)
	}
	if err := cmd.Start(); err != nil {
		return apperr.SpawnFailed(fmt.Sprintf("failed to start %s", argv[0]), err)
	}

	var fileMu sync.Mutex
	var stderrTail strings.Builder
	var seq atomic.Int64
	var g errgroup.Group
	g.Go(func() error {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := sc.Text()
			fileMu.Lock()
			_, werr := logFile.WriteString(line + "\n")
			fileMu.Unlock()
			if werr != nil {
				return werr
			}
			e.publish(events.KindRunOutput, events.RunOutputPayload{
				Agent: r.AgentName, RunID: r.RunID, Line: line, Seq: seq.Add(1),
			})
		}
		return sc.Err()
	})
	g.Go(func() error {
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := sc.Text()
			fileMu.Lock()
			_, werr := logFile.WriteString(line + "\n")
			fileMu.Unlock()
			if werr != nil {
				return werr
			}
			if stderrTail.Len() < 4096 {
				stderrTail.WriteString(line + "\n")
			}
		}
		return sc.Err()
	})

	// Readers drain to EOF before Wait reaps the child; the child's exit
	// must not outrun its readers.
	readErr := g.Wait()
	waitErr := cmd.Wait()

	switch {
	case handle.cancelled.Load():
		r.Status = StatusCancelled
		r.Error = "cancelled by request"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.Status = StatusTimeout
		r.Error = "run exceeded its timeout"
	case waitErr == nil:
		code := 0
		r.ExitCode = &code
		r.Status = StatusSuccess
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			r.ExitCode = &code
		}
		r.Status = StatusFailed
		r.Error = strings.TrimSpace(stderrTail.String())
		if r.Error == "" {
			r.Error = waitErr.Error()
		}
	}
	if readErr != nil && r.Status == StatusSuccess {
		r.Status = StatusFailed
		r.Error = fmt.Sprintf("reading child output: %v", readErr)
	}
	return nil
}

// runInTmux executes the compiled shell line inside a multiplexer
// session, capturing output through tee and the exit code through a
// sentinel file, and polls for completion.
func (e *Executor) runInTmux(ctx context.Context, handle *runHandle,
	prov provider.Provider, cfg provider.SpawnConfig, r *RunLog) error {

	if err := os.MkdirAll(filepath.Dir(r.OutputFile), 0o755); err != nil {
		return apperr.Internal(err)
	}
	exitFile := strings.TrimSuffix(r.OutputFile, ".log") + ".exit"
	shellLine := fmt.Sprintf("%s 2>&1 | tee %s; echo ${PIPESTATUS[0]} > %s",
		prov.BuildShellLine(cfg),
		stringutil.ShellQuote(r.OutputFile),
		stringutil.ShellQuote(exitFile),
	)
	if err := e.tmux.NewSession(ctx, r.SessionName, cfg.WorkingDir, shellLine); err != nil {
		return apperr.SpawnFailed("failed to create run session", err)
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = e.tmux.KillSession(context.WithoutCancel(ctx), r.SessionName)
			if handle.cancelled.Load() {
				r.Status = StatusCancelled
				r.Error = "cancelled by request"
			} else {
				r.Status = StatusTimeout
				r.Error = "run exceeded its timeout"
			}
			return nil
		case <-ticker.C:
			if code, ok := readExitFile(exitFile); ok {
				// Grace so tee finishes flushing the log.
				time.Sleep(200 * time.Millisecond)
				r.ExitCode = &code
				if code == 0 {
					r.Status = StatusSuccess
				} else {
					r.Status = StatusFailed
					r.Error = fmt.Sprintf("exited with code %d", code)
				}
				return nil
			}
			if !e.tmux.HasSession(ctx, r.SessionName) {
				time.Sleep(500 * time.Millisecond)
				if code, ok := readExitFile(exitFile); ok {
					r.ExitCode = &code
					if code == 0 {
						r.Status = StatusSuccess
					} else {
						r.Status = StatusFailed
						r.Error = fmt.Sprintf("exited with code %d", code)
					}
					return nil
				}
				r.Status = StatusFailed
				r.Error = "session ended without reporting an exit code"
				return nil
			}
		}
	}
}

func readExitFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return code, true
}

// guardrailPrompt renders the guardrails block injected into the child's
// system prompt.
func guardrailPrompt(g agent.Guardrails) string {
	var lines []string
	if len(g.ForbiddenPaths) > 0 {
		lines = append(lines, fmt.Sprintf("- NEVER access these paths: %s",
			strings.Join(g.ForbiddenPaths, ", ")))
	}
	if g.MaxFileEdits > 0 {
		lines = append(lines, fmt.Sprintf("- Maximum file edits: %d", g.MaxFileEdits))
	}
	var out string
	if len(lines) > 0 {
		out = "CRITICAL GUARDRAILS:\n" + strings.Join(lines, "\n")
	}
	if g.ExtraSystemPrompt != "" {
		if out != "" {
			out += "\n\n"
		}
		out += g.ExtraSystemPrompt
	}
	return out
}

func (e *Executor) runEnv(a *agent.Agent, runID string) map[string]string {
	env := map[string]string{
		"CRON_RUN_ID":     runID,
		"CRON_AGENT":      a.Name,
		"NOLAN_ROOT":      e.paths.AppRoot,
		"NOLAN_DATA_ROOT": e.paths.DataRoot,
	}
	if e.paths.WorkRoot != "" {
		env["AGENT_WORK_ROOT"] = e.paths.WorkRoot
	}
	if a.Team == "" {
		env["AGENT_DIR"] = e.paths.AgentDir(a.Name)
	} else {
		env["AGENT_DIR"] = e.paths.TeamAgentDir(a.Team, a.Name)
	}
	return env
}

func (e *Executor) register(runID string, h *runHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handles[runID] = h
}

func (e *Executor) unregister(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handles, runID)
}

// CancelRun cancels every in-flight run of the agent. Returns the run
// ids it signalled.
func (e *Executor) CancelRun(agentName string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var cancelled []string
	for runID, h := range e.handles {
		if h.agent != agentName {
			continue
		}
		h.cancelled.Store(true)
		h.cancel()
		cancelled = append(cancelled, runID)
	}
	return cancelled
}

// CancelRunID cancels one in-flight run.
func (e *Executor) CancelRunID(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[runID]
	if !ok {
		return false
	}
	h.cancelled.Store(true)
	h.cancel()
	return true
}

// RunningAgents returns the names of agents with in-flight runs.
func (e *Executor) RunningAgents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, h := range e.handles {
		if _, ok := seen[h.agent]; ok {
			continue
		}
		seen[h.agent] = struct{}{}
		out = append(out, h.agent)
	}
	return out
}

// Running reports whether the agent has an in-flight run.
func (e *Executor) Running(agentName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.handles {
		if h.agent == agentName {
			return true
		}
	}
	return false
}

func (e *Executor) publish(kind events.Kind, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(context.Background(), events.New(kind, "run-executor", payload)); err != nil {
		e.log.Warn("event publish failed", zap.Error(err))
	}
}
