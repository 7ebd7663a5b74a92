package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func event(kind Kind, payload any) *Event {
	e := New(kind, "test", payload)
	return &e
}

func TestTriggerKindMismatch(t *testing.T) {
	trig := Trigger{Kind: KindGitPush}
	assert.False(t, trig.Matches(event(KindFileChanged, nil)))
}

func TestTriggerNoPatternMatchesAnyPayload(t *testing.T) {
	trig := Trigger{Kind: KindGitPush}
	assert.True(t, trig.Matches(event(KindGitPush, map[string]string{"branch": "main"})))
	assert.True(t, trig.Matches(event(KindGitPush, nil)))
}

func TestTriggerSubstringPattern(t *testing.T) {
	trig := Trigger{Kind: KindGitPush, Pattern: `"branch":"main"`}
	assert.True(t, trig.Matches(event(KindGitPush, map[string]string{"branch": "main"})))
	assert.False(t, trig.Matches(event(KindGitPush, map[string]string{"branch": "dev"})))
}

func TestTriggerGlobPattern(t *testing.T) {
	trig := Trigger{Kind: KindFileChanged, Pattern: `{"op":*"path":*.go"}`}
	assert.True(t, trig.Matches(event(KindFileChanged, map[string]string{
		"op": "WRITE", "path": "/src/main.go"})))
	assert.False(t, trig.Matches(event(KindFileChanged, map[string]string{
		"op": "WRITE", "path": "/src/main.rs"})))
}

func TestGlobMatchAnchors(t *testing.T) {
	assert.True(t, globMatch("abc*xyz", "abc middle xyz"))
	assert.False(t, globMatch("abc*xyz", "Xabc middle xyz"))
	assert.False(t, globMatch("abc*xyz", "abc middle xyzX"))
	assert.True(t, globMatch("*needle*", "hay needle stack"))
	assert.True(t, globMatch("a*b*c", "a-b-c"))
	assert.False(t, globMatch("a*b*c", "a-c"), "payload missing a fixed segment must not match")
	assert.False(t, globMatch("abc*bcd", "abcd"), "anchored segments must not overlap")
}

func TestValidKind(t *testing.T) {
	assert.True(t, ValidKind(KindIdeaApproved))
	assert.True(t, ValidKind(KindFileChanged))
	assert.False(t, ValidKind(Kind("made-up")))
}
