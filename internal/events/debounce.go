package events

import (
	"sync"
	"time"
)

// DebounceTable tracks the last trigger instant per agent. Transient,
// lost on restart. Suppressed triggers are dropped, never queued.
type DebounceTable struct {
	mu   sync.RWMutex
	last map[string]time.Time
	now  func() time.Time
}

// NewDebounceTable creates an empty table.
func NewDebounceTable() *DebounceTable {
	return &DebounceTable{last: make(map[string]time.Time), now: time.Now}
}

// CanTrigger reports whether agent may fire given its debounce window,
// and records the trigger instant when it may.
func (d *DebounceTable) CanTrigger(agent string, debounce time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.last[agent]; ok && debounce > 0 && now.Sub(last) < debounce {
		return false
	}
	d.last[agent] = now
	return true
}

// Reset forgets the agent's last trigger instant.
func (d *DebounceTable) Reset(agent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, agent)
}
