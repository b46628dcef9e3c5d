package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var sampleEvent = Event{
	Title:           "Lunch",
	Description:     "with Sam",
	Start:           time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	End:             time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
	ReminderMinutes: 15,
}

func TestHTTPScheduler(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/calendar/events", r.URL.Path)
		assert.Equal(t, "sess-1", r.Header.Get(SessionHeader))
		var ev Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received <- ev
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"evt1","htmlLink":"https://calendar/evt1"}`)
	}))
	defer srv.Close()

	s := NewHTTPScheduler(srv.URL+"/", "sess-1", srv.Client())
	out, err := s.Schedule(context.Background(), sampleEvent)

	require.NoError(t, err)
	assert.Equal(t, Scheduled{ID: "evt1", HTMLLink: "https://calendar/evt1"}, out)
	got := <-received
	assert.Equal(t, sampleEvent.Title, got.Title)
	assert.True(t, sampleEvent.Start.Equal(got.Start))
	assert.Equal(t, 15, got.ReminderMinutes)
}

func TestHTTPSchedulerRequiresSession(t *testing.T) {
	s := NewHTTPScheduler("http://127.0.0.1:0", "", nil)
	_, err := s.Schedule(context.Background(), sampleEvent)
	assert.Error(t, err)
}

func TestHTTPSchedulerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewHTTPScheduler(srv.URL, "sess-1", nil).Schedule(context.Background(), sampleEvent)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
	assert.Contains(t, statusErr.Body, "unauthorized")
}

func TestGoogleCalendarSchedule(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		_, _ = io.WriteString(w, `{"id":"g1","htmlLink":"https://www.google.com/calendar/event?eid=g1"}`)
	}))
	defer srv.Close()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123", TokenType: "Bearer"})
	g := NewGoogleCalendar(context.Background(), ts)
	g.BaseURL = srv.URL

	out, err := g.Schedule(context.Background(), sampleEvent)
	require.NoError(t, err)
	assert.Equal(t, "g1", out.ID)

	body := <-received
	assert.Equal(t, "Lunch", body["summary"])
	assert.Equal(t, "with Sam", body["description"])
	assert.Equal(t, map[string]any{"dateTime": "2024-01-01T12:00:00Z"}, body["start"])
	assert.Equal(t, map[string]any{
		"useDefault": false,
		"overrides":  []any{map[string]any{"method": "popup", "minutes": float64(15)}},
	}, body["reminders"])
}

func TestToGoogleEventAllDay(t *testing.T) {
	ev := Event{
		Title:  "Holiday",
		Start:  time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	}

	g := toGoogleEvent(ev)
	assert.Equal(t, googleTime{Date: "2024-12-25"}, g.Start)
	assert.Equal(t, googleTime{Date: "2024-12-26"}, g.End)
	assert.Nil(t, g.Reminders)
}
