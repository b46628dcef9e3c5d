package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// GoogleCalendarBaseURL is the Calendar v3 REST root.
	GoogleCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

	// SessionHeader carries the backend session id.
	SessionHeader = "X-Session-ID"

	eventsPath = "/api/calendar/events"
)

// Scheduled identifies a created event.
type Scheduled struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink,omitempty"`
}

// Scheduler creates events on a calendar.
type Scheduler interface {
	Schedule(ctx context.Context, ev Event) (Scheduled, error)
}

// StatusError is returned when the calendar endpoint answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("calendar request failed with status %d: %s", e.Status, e.Body)
}

// HTTPScheduler posts events to the Lumen backend, which forwards them to
// the signed-in user's Google calendar.
type HTTPScheduler struct {
	baseURL   string
	sessionID string
	client    *http.Client
}

// NewHTTPScheduler creates a scheduler for the backend at baseURL. A nil
// client uses http.DefaultClient.
func NewHTTPScheduler(baseURL, sessionID string, client *http.Client) *HTTPScheduler {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPScheduler{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		client:    client,
	}
}

func (s *HTTPScheduler) Schedule(ctx context.Context, ev Event) (Scheduled, error) {
	if s.sessionID == "" {
		return Scheduled{}, fmt.Errorf("schedule event: no session")
	}

	req, err := newJSONRequest(ctx, s.baseURL+eventsPath, ev)
	if err != nil {
		return Scheduled{}, err
	}
	req.Header.Set(SessionHeader, s.sessionID)

	return doSchedule(s.client, req)
}

// GoogleCalendar inserts events through the Calendar v3 API.
type GoogleCalendar struct {
	BaseURL    string
	CalendarID string
	client     *http.Client
}

// NewGoogleCalendar creates a client authorized by ts on the primary calendar.
func NewGoogleCalendar(ctx context.Context, ts oauth2.TokenSource) *GoogleCalendar {
	return &GoogleCalendar{
		BaseURL:    GoogleCalendarBaseURL,
		CalendarID: "primary",
		client:     oauth2.NewClient(ctx, ts),
	}
}

type googleTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type googleReminder struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type googleReminders struct {
	UseDefault bool             `json:"useDefault"`
	Overrides  []googleReminder `json:"overrides,omitempty"`
}

type googleEvent struct {
	Summary     string           `json:"summary"`
	Description string           `json:"description,omitempty"`
	Start       googleTime       `json:"start"`
	End         googleTime       `json:"end"`
	Reminders   *googleReminders `json:"reminders,omitempty"`
}

func toGoogleEvent(ev Event) googleEvent {
	g := googleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
	}

	if ev.AllDay {
		g.Start = googleTime{Date: ev.Start.Format(dateLayout)}
		g.End = googleTime{Date: ev.End.Format(dateLayout)}
	} else {
		g.Start = googleTime{DateTime: ev.Start.Format(time.RFC3339)}
		g.End = googleTime{DateTime: ev.End.Format(time.RFC3339)}
	}

	if ev.ReminderMinutes > 0 {
		g.Reminders = &googleReminders{
			Overrides: []googleReminder{{Method: "popup", Minutes: ev.ReminderMinutes}},
		}
	}

	return g
}

func (g *GoogleCalendar) Schedule(ctx context.Context, ev Event) (Scheduled, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events",
		strings.TrimRight(g.BaseURL, "/"), url.PathEscape(g.CalendarID))

	req, err := newJSONRequest(ctx, endpoint, toGoogleEvent(ev))
	if err != nil {
		return Scheduled{}, err
	}

	return doSchedule(g.client, req)
}

func newJSONRequest(ctx context.Context, endpoint string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func doSchedule(client *http.Client, req *http.Request) (Scheduled, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Scheduled{}, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Scheduled{}, fmt.Errorf("failed to read calendar response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Scheduled{}, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out Scheduled
	if err := json.Unmarshal(body, &out); err != nil {
		return Scheduled{}, fmt.Errorf("failed to decode calendar response: %w", err)
	}
	return out, nil
}
