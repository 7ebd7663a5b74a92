package events

import "strings"

// Trigger is the predicate under which an event-driven agent fires.
type Trigger struct {
	Kind       Kind   `json:"kind" yaml:"kind"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	DebounceMS int64  `json:"debounce_ms,omitempty" yaml:"debounce_ms,omitempty"`
}

// Matches reports whether event satisfies the trigger. The kinds must be
// equal; an absent pattern always matches; a pattern containing `*` is a
// glob over the payload's JSON serialisation (fixed segments in order,
// first anchored to the start, last to the end); any other pattern is a
// plain substring test.
func (t Trigger) Matches(event *Event) bool {
	if t.Kind != event.Kind {
		return false
	}
	if t.Pattern == "" {
		return true
	}
	payload := string(event.Payload)
	if strings.Contains(t.Pattern, "*") {
		return globMatch(t.Pattern, payload)
	}
	return strings.Contains(payload, t.Pattern)
}

func globMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	first, last := segments[0], segments[len(segments)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	if !strings.HasSuffix(s, last) {
		return false
	}
	pos := len(first)
	end := len(s) - len(last)
	if pos > end {
		return false
	}
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(s[pos:end], seg)
		if idx < 0 {
			return false
		}
		pos += idx + len(seg)
	}
	return true
}
