package cronos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/fsutil"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
)

var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// idleWake bounds how long the tick loop sleeps when no schedule is
// armed.
const idleWake = time.Hour

// Schedule binds an agent to a cron expression.
type Schedule struct {
	ID             string     `yaml:"id" json:"id"`
	AgentName      string     `yaml:"agent_name" json:"agent_name"`
	CronExpression string     `yaml:"cron_expression" json:"cron_expression"`
	Enabled        bool       `yaml:"enabled" json:"enabled"`
	Timezone       string     `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	LastFiredAt    *time.Time `yaml:"last_fired_at,omitempty" json:"last_fired_at,omitempty"`
	CreatedAt      time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `yaml:"updated_at" json:"updated_at"`

	// NextRun is derived from the expression, never authoritative.
	NextRun *time.Time `yaml:"-" json:"next_run,omitempty"`
}

// clone returns a copy safe to hand out while the tick loop keeps
// mutating the stored schedule.
func (sc *Schedule) clone() *Schedule {
	out := *sc
	if sc.LastFiredAt != nil {
		t := *sc.LastFiredAt
		out.LastFiredAt = &t
	}
	if sc.NextRun != nil {
		t := *sc.NextRun
		out.NextRun = &t
	}
	return &out
}

type scheduleDoc struct {
	Schedules []*Schedule `yaml:"schedules"`
}

type armedSchedule struct {
	schedule *Schedule
	cron     cron.Schedule
	next     time.Time
}

// Scheduler owns the armed schedule set, fires agents at cron time and
// serves as the shared dispatch path for ad-hoc and event triggers.
type Scheduler struct {
	paths    *paths.Paths
	store    *agent.Store
	executor *Executor
	runs     *RunStore
	log      *logger.Logger
	useTmux  bool
	now      func() time.Time

	mu        sync.RWMutex
	schedules map[string]*Schedule
	armed     map[string]*armedSchedule

	running bool
	stopCh  chan struct{}
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler wires the scheduler. useTmux controls whether scheduled
// runs execute inside attachable multiplexer sessions.
func NewScheduler(p *paths.Paths, store *agent.Store, executor *Executor,
	runs *RunStore, useTmux bool, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		paths:     p,
		store:     store,
		executor:  executor,
		runs:      runs,
		log:       log.WithFields(zap.String("component", "scheduler")),
		useTmux:   useTmux,
		now:       time.Now,
		schedules: make(map[string]*Schedule),
		armed:     make(map[string]*armedSchedule),
	}
}

// Start loads persisted schedules, applies catch-up policies and begins
// the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	if err := s.loadLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, sched := range s.schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.armLocked(sched); err != nil {
			s.log.Warn("skipping unparsable schedule",
				zap.String("schedule_id", sched.ID),
				zap.String("agent", sched.AgentName),
				zap.Error(err),
			)
		}
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wake = make(chan struct{}, 1)
	s.mu.Unlock()

	s.applyCatchUp(ctx)

	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("scheduler started", zap.Int("armed", s.armedCount()))
	return nil
}

// Stop halts the tick loop. In-flight runs are not interrupted.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) armedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.armed)
}

// armLocked parses the expression and inserts the schedule into the
// armed table. Caller holds s.mu.
func (s *Scheduler) armLocked(sched *Schedule) error {
	cronSched, err := ParseCron(sched.CronExpression, sched.Timezone)
	if err != nil {
		return err
	}
	next := cronSched.Next(s.now())
	sched.NextRun = &next
	s.armed[sched.ID] = &armedSchedule{schedule: sched, cron: cronSched, next: next}
	return nil
}

func (s *Scheduler) disarmLocked(id string) {
	delete(s.armed, id)
	if sched, ok := s.schedules[id]; ok {
		sched.NextRun = nil
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		wait := s.untilNextFire()
		timer := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// untilNextFire returns the sleep until the soonest armed next_run.
func (s *Scheduler) untilNextFire() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	soonest := time.Time{}
	for _, a := range s.armed {
		if soonest.IsZero() || a.next.Before(soonest) {
			soonest = a.next
		}
	}
	if soonest.IsZero() {
		return idleWake
	}
	wait := time.Until(soonest)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fireDue fires every armed schedule whose next_run has passed and
// recomputes its successor.
func (s *Scheduler) fireDue(ctx context.Context) {
	for _, f := range s.collectDue(s.now()) {
		s.dispatch(ctx, f.agentName, TriggerScheduled, "")
	}
}

type firing struct {
	agentName string
	at        time.Time
}

// collectDue marks every armed schedule whose next_run has passed as
// fired, recomputes its successor and returns the batch ordered by the
// instant each firing was due.
func (s *Scheduler) collectDue(now time.Time) []firing {
	s.mu.Lock()
	var due []firing
	for _, a := range s.armed {
		if !a.next.After(now) {
			due = append(due, firing{agentName: a.schedule.AgentName, at: a.next})
			fired := now
			a.schedule.LastFiredAt = &fired
			a.next = a.cron.Next(now)
			next := a.next
			a.schedule.NextRun = &next
		}
	}
	var persistErr error
	if len(due) > 0 {
		persistErr = s.persistLocked()
	}
	s.mu.Unlock()
	if persistErr != nil {
		s.log.Error("persisting fired schedules", zap.Error(persistErr))
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	return due
}

// dispatch resolves the agent and hands off to the executor in its own
// goroutine. A failing run never takes the tick loop down with it.
func (s *Scheduler) dispatch(ctx context.Context, agentName string, trigger Trigger, label string) {
	a, err := s.store.Find(agentName)
	if err != nil || a == nil {
		s.log.Warn("schedule references unknown agent", zap.String("agent", agentName), zap.Error(err))
		return
	}
	if !a.Enabled {
		s.log.Info("agent disabled, not firing", zap.String("agent", agentName))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("run dispatch panicked",
					zap.String("agent", agentName), zap.Any("panic", r))
			}
		}()
		if _, err := s.executor.Execute(context.WithoutCancel(ctx), Request{
			Agent:   a,
			Trigger: trigger,
			Label:   label,
			UseTmux: s.useTmux,
		}); err != nil {
			s.log.Warn("run dispatch refused",
				zap.String("agent", agentName), zap.Error(err))
		}
	}()
}

// TriggerAgent is the ad-hoc dispatch path shared by "run now", event
// handlers and idea approval. The serial gate is checked up front so a
// refusal surfaces synchronously; the run itself is asynchronous.
func (s *Scheduler) TriggerAgent(ctx context.Context, agentName string, trigger Trigger, label string) error {
	a, err := s.store.Find(agentName)
	if err != nil {
		return err
	}
	if a == nil {
		return apperr.NotFound("agent", agentName)
	}
	if a.Serial && s.executor.Running(a.Name) {
		s.executor.skippedRun(Request{Agent: a, Trigger: trigger, Label: label})
		return apperr.Conflict(fmt.Sprintf("agent %q is running and opted into serial execution", a.Name))
	}
	s.dispatch(ctx, a.Name, trigger, label)
	return nil
}

// CancelRun cancels every in-flight run of the agent.
func (s *Scheduler) CancelRun(agentName string) ([]string, error) {
	cancelled := s.executor.CancelRun(agentName)
	if len(cancelled) == 0 {
		return nil, apperr.NotFound("running agent", agentName)
	}
	return cancelled, nil
}

// RunningAgents lists agents with in-flight runs.
func (s *Scheduler) RunningAgents() []string {
	return s.executor.RunningAgents()
}

// ListRuns returns recent run history, optionally filtered by agent.
func (s *Scheduler) ListRuns(agentName string, limit int) ([]*RunLog, error) {
	return s.runs.List(agentName, limit)
}

// GetRunLog returns one run by id.
func (s *Scheduler) GetRunLog(runID string) (*RunLog, error) {
	r, err := s.runs.Get(runID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperr.NotFound("run", runID)
	}
	return r, nil
}

// --- schedule CRUD ---

// Create validates, persists and (when enabled) arms a new schedule.
func (s *Scheduler) Create(agentName, expr, tz string, enabled bool) (*Schedule, error) {
	if _, err := ParseCron(expr, tz); err != nil {
		return nil, err
	}
	a, err := s.store.Find(agentName)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("agent", agentName)
	}
	now := s.now().UTC()
	sched := &Schedule{
		ID:             uuid.New().String(),
		AgentName:      agentName,
		CronExpression: expr,
		Timezone:       tz,
		Enabled:        enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.mu.Lock()
	s.schedules[sched.ID] = sched
	if enabled && s.running {
		if err := s.armLocked(sched); err != nil {
			delete(s.schedules, sched.ID)
			s.mu.Unlock()
			return nil, err
		}
	}
	err = s.persistLocked()
	out := sched.clone()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.kick()
	return out, nil
}

// Update replaces the expression, timezone and enabled flag of an
// existing schedule.
func (s *Scheduler) Update(id, expr, tz string, enabled bool) (*Schedule, error) {
	if _, err := ParseCron(expr, tz); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperr.NotFound("schedule", id)
	}
	sched.CronExpression = expr
	sched.Timezone = tz
	sched.Enabled = enabled
	sched.UpdatedAt = s.now().UTC()
	s.disarmLocked(id)
	if enabled && s.running {
		if err := s.armLocked(sched); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	err := s.persistLocked()
	out := sched.clone()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.kick()
	return out, nil
}

// Toggle arms or disarms a schedule in place.
func (s *Scheduler) Toggle(id string, enabled bool) (*Schedule, error) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperr.NotFound("schedule", id)
	}
	sched.Enabled = enabled
	sched.UpdatedAt = s.now().UTC()
	s.disarmLocked(id)
	if enabled && s.running {
		if err := s.armLocked(sched); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	err := s.persistLocked()
	out := sched.clone()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.kick()
	return out, nil
}

// Delete removes a schedule. The schedule must be disarmed first.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFound("schedule", id)
	}
	if _, armed := s.armed[id]; armed || sched.Enabled {
		s.mu.Unlock()
		return apperr.Conflict("schedule must be disabled before deletion")
	}
	delete(s.schedules, id)
	err := s.persistLocked()
	s.mu.Unlock()
	return err
}

// Get returns one schedule by id.
func (s *Scheduler) Get(id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, apperr.NotFound("schedule", id)
	}
	return sched.clone(), nil
}

// List returns all schedules sorted by creation time.
func (s *Scheduler) List() []*Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// kick wakes the tick loop after the armed set changed.
func (s *Scheduler) kick() {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// --- catch-up ---

// applyCatchUp evaluates each armed schedule's catch-up policy against
// its last firing. A clock that moved backwards is treated as skip.
func (s *Scheduler) applyCatchUp(ctx context.Context) {
	now := s.now()
	s.mu.RLock()
	armed := make([]*armedSchedule, 0, len(s.armed))
	for _, a := range s.armed {
		armed = append(armed, a)
	}
	s.mu.RUnlock()

	for _, a := range armed {
		sched := a.schedule
		if sched.LastFiredAt == nil {
			continue
		}
		last := *sched.LastFiredAt
		if last.After(now) {
			s.log.Warn("clock moved backwards, skipping catch-up",
				zap.String("schedule_id", sched.ID),
				zap.Time("last_fired_at", last),
			)
			continue
		}
		missed := missedFirings(a.cron, last, now)
		if missed == 0 {
			continue
		}
		agentName := sched.AgentName
		a2, err := s.store.Find(agentName)
		if err != nil || a2 == nil {
			continue
		}
		switch a2.Catchup() {
		case agent.CatchUpSkip:
		case agent.CatchUpRunOnce:
			s.log.Info("catch-up: firing once",
				zap.String("agent", agentName), zap.Int("missed", missed))
			s.dispatchCatchUp(ctx, agentName, 1)
		case agent.CatchUpRunAll:
			s.log.Info("catch-up: replaying missed firings",
				zap.String("agent", agentName), zap.Int("missed", missed))
			s.dispatchCatchUp(ctx, agentName, missed)
		}
	}
}

// dispatchCatchUp fires n runs serially in one goroutine.
func (s *Scheduler) dispatchCatchUp(ctx context.Context, agentName string, n int) {
	a, err := s.store.Find(agentName)
	if err != nil || a == nil || !a.Enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i := 0; i < n; i++ {
			if _, err := s.executor.Execute(context.WithoutCancel(ctx), Request{
				Agent:   a,
				Trigger: TriggerCatchUp,
				UseTmux: s.useTmux,
			}); err != nil {
				s.log.Warn("catch-up run refused",
					zap.String("agent", agentName), zap.Error(err))
				return
			}
		}
	}()
}

// missedFirings counts scheduled instants in (last, now], capped so a
// pathological gap cannot replay unbounded work.
func missedFirings(sched cron.Schedule, last, now time.Time) int {
	const maxReplay = 100
	count := 0
	t := last
	for count < maxReplay {
		t = sched.Next(t)
		if t.After(now) {
			break
		}
		count++
	}
	return count
}

// --- persistence ---

// loadLocked reads schedules.yaml into memory. Caller holds s.mu.
func (s *Scheduler) loadLocked() error {
	data, err := os.ReadFile(s.paths.SchedulesFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Internal(err)
	}
	var doc scheduleDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return apperr.Internal(fmt.Errorf("parsing schedules file: %w", err))
	}
	for _, sched := range doc.Schedules {
		s.schedules[sched.ID] = sched
	}
	return nil
}

// persistLocked writes the schedule set atomically. Caller holds s.mu.
func (s *Scheduler) persistLocked() error {
	doc := scheduleDoc{Schedules: make([]*Schedule, 0, len(s.schedules))}
	for _, sched := range s.schedules {
		doc.Schedules = append(doc.Schedules, sched)
	}
	sort.Slice(doc.Schedules, func(i, j int) bool {
		return doc.Schedules[i].CreatedAt.Before(doc.Schedules[j].CreatedAt)
	})
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := fsutil.WriteFileAtomic(s.paths.SchedulesFile(), data, 0o644); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
