// Package calendar finds calendar events embedded in assistant replies and
// schedules them.
//
// The assistant is prompted to include an object such as
//
//	{"type":"calendar","title":"Lunch","start":"2024-01-01T12:00:00Z","end":"2024-01-01T13:00:00Z"}
//
// somewhere in its prose. Extract pulls that object out as a Candidate, Adapt
// turns a Candidate into the one canonical Event the rest of the program uses,
// and a Scheduler creates it on a calendar.
package calendar

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// TypeCalendar is the discriminator value of an embedded event object.
const TypeCalendar = "calendar"

var detectMarkers = []string{
	`"type":"calendar"`,
	`"type": "calendar"`,
}

// Candidate is an event object as it appeared in the text. Field shapes are
// loose; use Adapt to get an Event.
type Candidate struct {
	Type        string          `json:"type"`
	Title       string          `json:"title,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Description string          `json:"description,omitempty"`
	Start       json.RawMessage `json:"start,omitempty"`
	End         json.RawMessage `json:"end,omitempty"`

	// Raw is the exact substring the candidate was decoded from.
	Raw string `json:"-"`
}

// Detect reports whether text mentions an embedded calendar object. It is a
// cheap substring test; a true result does not mean Extract will succeed.
func Detect(text string) bool {
	for _, m := range detectMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Extract returns the first well-formed calendar object found in text.
//
// Every '{' is tried as a start position and paired with its nearest
// balanced '}' (braces inside JSON strings are ignored). The first substring
// that parses and carries type "calendar" wins. Malformed or truncated
// objects are skipped silently, so Extract is safe to call repeatedly on
// partial text.
func Extract(text string) (*Candidate, bool) {
	if !Detect(text) {
		return nil, false
	}

	for start := strings.IndexByte(text, '{'); start != -1; {
		if end, ok := matchBrace(text, start); ok {
			if c, ok := decodeCandidate(text[start : end+1]); ok {
				return c, true
			}
		}

		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}

	return nil, false
}

func decodeCandidate(raw string) (*Candidate, bool) {
	if !gjson.Valid(raw) {
		return nil, false
	}
	if gjson.Get(raw, "type").String() != TypeCalendar {
		return nil, false
	}

	var c Candidate
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, false
	}
	c.Raw = raw
	return &c, true
}

// matchBrace returns the index of the '}' closing the '{' at open.
func matchBrace(text string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}

	return 0, false
}
