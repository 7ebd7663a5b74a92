package cronos

import (
	"sort"
	"time"
)

// Health states for an agent's recent run history.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// AgentHealth summarises one agent's recent runs.
type AgentHealth struct {
	Agent      string     `json:"agent"`
	TotalRuns  int        `json:"total_runs"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	LastStatus Status     `json:"last_status,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	State      string     `json:"state"`
}

// HealthReport aggregates scheduler state for the health endpoint.
type HealthReport struct {
	ArmedSchedules  int           `json:"armed_schedules"`
	RunningAgents   []string      `json:"running_agents"`
	SuccessRate     float64       `json:"success_rate"`
	EarliestNextRun *time.Time    `json:"earliest_next_run,omitempty"`
	Agents          []AgentHealth `json:"agents"`
}

// Health inspects the last window runs per the run index and classifies
// each agent. Agents with no terminal runs are healthy.
func (s *Scheduler) Health(window int) (*HealthReport, error) {
	if window <= 0 {
		window = 20
	}
	recent, err := s.runs.Recent("", window)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{
		RunningAgents: s.RunningAgents(),
	}
	s.mu.RLock()
	report.ArmedSchedules = len(s.armed)
	for _, a := range s.armed {
		next := a.next
		if report.EarliestNextRun == nil || next.Before(*report.EarliestNextRun) {
			report.EarliestNextRun = &next
		}
	}
	s.mu.RUnlock()

	byAgent := make(map[string]*AgentHealth)
	terminal, succeeded := 0, 0
	// Oldest first, so the last assignment per agent is its newest run.
	for _, r := range recent {
		h, ok := byAgent[r.AgentName]
		if !ok {
			h = &AgentHealth{Agent: r.AgentName}
			byAgent[r.AgentName] = h
		}
		h.LastStatus = r.Status
		started := r.StartedAt
		h.LastRunAt = &started
		if !r.Status.Terminal() || r.Status == StatusSkipped || r.Status == StatusCancelled {
			continue
		}
		h.TotalRuns++
		terminal++
		if r.Status == StatusSuccess {
			h.Succeeded++
			succeeded++
		} else {
			h.Failed++
		}
	}
	if terminal > 0 {
		report.SuccessRate = float64(succeeded) / float64(terminal)
	} else {
		report.SuccessRate = 1
	}

	for _, h := range byAgent {
		h.State = classify(h)
		report.Agents = append(report.Agents, *h)
	}
	sort.Slice(report.Agents, func(i, j int) bool {
		return report.Agents[i].Agent < report.Agents[j].Agent
	})
	return report, nil
}

func classify(h *AgentHealth) string {
	if h.TotalRuns == 0 {
		return HealthHealthy
	}
	rate := float64(h.Succeeded) / float64(h.TotalRuns)
	switch {
	case rate >= 0.8:
		return HealthHealthy
	case rate >= 0.5:
		return HealthWarning
	default:
		return HealthCritical
	}
}
