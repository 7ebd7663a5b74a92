package session

import (
	"strings"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

// InputMode selects how send_input payloads are interpreted.
type InputMode string

const (
	ModeLiteral InputMode = "literal"
	ModeKey     InputMode = "key"
	ModeRaw     InputMode = "raw"
)

// keyNames maps the closed key alphabet to tmux key codes.
var keyNames = map[string]string{
	"Enter":      "C-m",
	"Backspace":  "BSpace",
	"Tab":        "Tab",
	"ArrowUp":    "Up",
	"ArrowDown":  "Down",
	"ArrowLeft":  "Left",
	"ArrowRight": "Right",
	"Escape":     "Escape",
	"Delete":     "DC",
	"Home":       "Home",
	"End":        "End",
	"PageUp":     "PPage",
	"PageDown":   "NPage",
}

// MapKeyName translates a key name to its tmux code.
func MapKeyName(key string) (string, error) {
	code, ok := keyNames[key]
	if !ok {
		return "", apperr.Invalidf("unknown key name %q", key)
	}
	return code, nil
}

// inputPart is one unit of a decoded raw payload: either a tmux key code
// or a literal run of text.
type inputPart struct {
	key     string
	literal string
}

// csiKeys maps the final byte of common CSI escape sequences to tmux keys.
var csiKeys = map[byte]string{
	'A': "Up",
	'B': "Down",
	'C': "Right",
	'D': "Left",
	'H': "Home",
	'F': "End",
}

// decodeRaw splits a raw terminal payload into key and literal parts.
// Recognised CSI sequences and control characters route through the key
// path; everything else falls through to literal sends.
func decodeRaw(data string) []inputPart {
	var parts []inputPart
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, inputPart{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case '\r', '\n':
			flush()
			parts = append(parts, inputPart{key: "C-m"})
		case '\t':
			flush()
			parts = append(parts, inputPart{key: "Tab"})
		case 0x7f:
			flush()
			parts = append(parts, inputPart{key: "BSpace"})
		case 0x1b:
			if i+2 < len(data) && data[i+1] == '[' {
				if key, ok := csiKeys[data[i+2]]; ok {
					flush()
					parts = append(parts, inputPart{key: key})
					i += 2
					continue
				}
			}
			if i == len(data)-1 {
				flush()
				parts = append(parts, inputPart{key: "Escape"})
				continue
			}
			// Unrecognised escape, pass through literally.
			lit.WriteByte(c)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return parts
}
