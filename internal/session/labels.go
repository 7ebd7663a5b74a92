package session

import (
	"regexp"
	"strings"
	"sync"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

const maxLabelLen = 30

var labelRe = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// ValidateLabel checks a user-assigned ralph display label.
func ValidateLabel(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", apperr.Invalid("label must not be empty")
	}
	if len(label) > maxLabelLen {
		return "", apperr.Invalidf("label must be at most %d characters", maxLabelLen)
	}
	if !labelRe.MatchString(label) {
		return "", apperr.Invalid("label may contain only letters, digits, space, hyphen and underscore")
	}
	return label, nil
}

// labelRegistry holds display labels for ralph sessions. Transient,
// rebuilt from user actions after a restart.
type labelRegistry struct {
	mu     sync.RWMutex
	labels map[string]string // session name -> label
}

func newLabelRegistry() *labelRegistry {
	return &labelRegistry{labels: make(map[string]string)}
}

func (r *labelRegistry) get(session string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	label, ok := r.labels[session]
	return label, ok
}

func (r *labelRegistry) set(session, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels[session] = label
}

func (r *labelRegistry) remove(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.labels, session)
}

func (r *labelRegistry) snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.labels))
	for k, v := range r.labels {
		out[k] = v
	}
	return out
}
