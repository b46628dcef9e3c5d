package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultDuration = time.Hour
	allDayDuration  = 24 * time.Hour

	dateLayout       = "2006-01-02"
	localLayout      = "2006-01-02T15:04:05"
	localNoSecLayout = "2006-01-02T15:04"
)

// Reasons Adapt rejects a candidate.
var (
	ErrNoTitle        = errors.New("calendar event has no title")
	ErrNoStart        = errors.New("calendar event has no start time")
	ErrBadTime        = errors.New("unrecognized calendar time")
	ErrEndBeforeStart = errors.New("calendar event ends before it starts")
)

// Event is the canonical calendar event.
type Event struct {
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	AllDay          bool      `json:"allDay,omitempty"`
	ReminderMinutes int       `json:"reminderMinutes,omitempty"`
}

// Adapt converts a Candidate into an Event, resolving times without an
// offset in the local time zone.
func Adapt(c *Candidate) (Event, error) {
	return AdaptIn(c, time.Local)
}

// AdaptIn is Adapt with an explicit location for offset-less times.
//
// Accepted shapes:
//   - title, or summary when title is absent
//   - start/end as RFC 3339, "2006-01-02T15:04:05", "2006-01-02T15:04" or a
//     bare date (all-day), or as an object holding dateTime or date
//   - reminderMinutes or reminder, as a number or numeric string
//
// A missing end defaults to one hour after start, or one day for all-day
// events.
func AdaptIn(c *Candidate, loc *time.Location) (Event, error) {
	if c == nil {
		return Event{}, ErrNoTitle
	}
	if loc == nil {
		loc = time.UTC
	}

	raw := c.Raw
	if raw == "" {
		raw = candidateJSON(c)
	}
	doc := gjson.Parse(raw)

	ev := Event{
		Title:       firstString(doc, "title", "summary"),
		Description: strings.TrimSpace(doc.Get("description").String()),
	}
	if ev.Title == "" {
		return Event{}, ErrNoTitle
	}

	startField := doc.Get("start")
	if !startField.Exists() || startField.Type == gjson.Null {
		return Event{}, ErrNoStart
	}
	start, allDay, err := parseWhen(startField, loc)
	if err != nil {
		return Event{}, fmt.Errorf("start: %w", err)
	}
	ev.Start = start
	ev.AllDay = allDay

	endField := doc.Get("end")
	if endField.Exists() && endField.Type != gjson.Null {
		end, _, err := parseWhen(endField, loc)
		if err != nil {
			return Event{}, fmt.Errorf("end: %w", err)
		}
		ev.End = end
	} else if allDay {
		ev.End = start.Add(allDayDuration)
	} else {
		ev.End = start.Add(defaultDuration)
	}

	if ev.End.Before(ev.Start) {
		return Event{}, ErrEndBeforeStart
	}

	for _, key := range []string{"reminderMinutes", "reminder"} {
		if r := doc.Get(key); r.Exists() && r.Int() > 0 {
			ev.ReminderMinutes = int(r.Int())
			break
		}
	}

	return ev, nil
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(doc.Get(k).String()); v != "" {
			return v
		}
	}
	return ""
}

func parseWhen(v gjson.Result, loc *time.Location) (time.Time, bool, error) {
	if v.IsObject() {
		if dt := v.Get("dateTime"); dt.Exists() {
			return parseTime(dt.String(), loc)
		}
		if d := v.Get("date"); d.Exists() {
			return parseTime(d.String(), loc)
		}
		return time.Time{}, false, ErrBadTime
	}
	return parseTime(v.String(), loc)
}

func parseTime(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	for _, layout := range []string{localLayout, localNoSecLayout} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrBadTime, s)
}

func candidateJSON(c *Candidate) string {
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}
