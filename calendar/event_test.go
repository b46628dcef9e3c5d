package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustExtract(t *testing.T, text string) *Candidate {
	t.Helper()
	c, ok := Extract(text)
	require.True(t, ok, "no candidate in %q", text)
	return c
}

func TestAdaptIn(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)

	tests := []struct {
		name string
		json string
		want Event
	}{
		{
			name: "rfc3339 with title",
			json: lunchJSON,
			want: Event{
				Title: "Lunch",
				Start: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "summary fallback and default duration",
			json: `{"type":"calendar","summary":"Call mom","start":"2024-05-06T18:30:00"}`,
			want: Event{
				Title: "Call mom",
				Start: time.Date(2024, 5, 6, 18, 30, 0, 0, berlin),
				End:   time.Date(2024, 5, 6, 19, 30, 0, 0, berlin),
			},
		},
		{
			name: "all-day date",
			json: `{"type":"calendar","title":"Holiday","start":"2024-12-25"}`,
			want: Event{
				Title:  "Holiday",
				Start:  time.Date(2024, 12, 25, 0, 0, 0, 0, berlin),
				End:    time.Date(2024, 12, 26, 0, 0, 0, 0, berlin),
				AllDay: true,
			},
		},
		{
			name: "object times and reminder",
			json: `{"type":"calendar","title":"Standup","description":" daily ","start":{"dateTime":"2024-03-04T09:00:00Z"},"end":{"dateTime":"2024-03-04T09:15:00Z"},"reminder":"10"}`,
			want: Event{
				Title:           "Standup",
				Description:     "daily",
				Start:           time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
				End:             time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC),
				ReminderMinutes: 10,
			},
		},
		{
			name: "minutes without seconds",
			json: `{"type":"calendar","title":"Gym","start":"2024-02-02T07:00","end":"2024-02-02T08:00","reminderMinutes":30}`,
			want: Event{
				Title:           "Gym",
				Start:           time.Date(2024, 2, 2, 7, 0, 0, 0, berlin),
				End:             time.Date(2024, 2, 2, 8, 0, 0, 0, berlin),
				ReminderMinutes: 30,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdaptIn(mustExtract(t, tt.json), berlin)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Title, got.Title)
			assert.Equal(t, tt.want.Description, got.Description)
			assert.True(t, tt.want.Start.Equal(got.Start), "start %v != %v", got.Start, tt.want.Start)
			assert.True(t, tt.want.End.Equal(got.End), "end %v != %v", got.End, tt.want.End)
			assert.Equal(t, tt.want.AllDay, got.AllDay)
			assert.Equal(t, tt.want.ReminderMinutes, got.ReminderMinutes)
		})
	}
}

func TestAdaptInErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
		want error
	}{
		{"no title", `{"type":"calendar","start":"2024-01-01"}`, ErrNoTitle},
		{"no start", `{"type":"calendar","title":"x"}`, ErrNoStart},
		{"null start", `{"type":"calendar","title":"x","start":null}`, ErrNoStart},
		{"bad start", `{"type":"calendar","title":"x","start":"tomorrow"}`, ErrBadTime},
		{"bad end object", `{"type":"calendar","title":"x","start":"2024-01-01","end":{"when":"later"}}`, ErrBadTime},
		{"end before start", `{"type":"calendar","title":"x","start":"2024-01-02T10:00:00Z","end":"2024-01-01T10:00:00Z"}`, ErrEndBeforeStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AdaptIn(mustExtract(t, tt.json), time.UTC)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdaptNil(t *testing.T) {
	_, err := Adapt(nil)
	assert.ErrorIs(t, err, ErrNoTitle)
}

func TestAdaptWithoutRaw(t *testing.T) {
	c := &Candidate{
		Type:    TypeCalendar,
		Summary: "Dentist",
		Start:   []byte(`"2024-07-01T08:00:00Z"`),
	}

	ev, err := AdaptIn(c, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Dentist", ev.Title)
	assert.Equal(t, time.Hour, ev.End.Sub(ev.Start))
}
