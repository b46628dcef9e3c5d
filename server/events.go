package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"lumen/calendar"
	"lumen/storage"
)

// handleCreateEvent inserts a canonical event into the signed-in user's
// Google calendar.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	account := s.requireSession(w, r, "")
	if account == nil {
		return
	}
	logger := s.loggerFrom(r.Context()).With(zap.String("session_id", account.SessionID))

	var ev calendar.Event
	if !decodeJSON(w, r, &ev) {
		return
	}
	if msg, ok := validateEvent(ev); !ok {
		writeError(w, http.StatusBadRequest, "invalid_event", msg)
		return
	}

	token, err := s.accounts.Token(account.SessionID)
	if err != nil {
		logger.Error("load oauth token failed", zap.Error(err))
		writeError(w, http.StatusForbidden, "session_required", "Sign in again to use your calendar.")
		return
	}

	ts := &persistingTokenSource{
		base:      s.oauth.TokenSource(r.Context(), token),
		accounts:  s.accounts,
		sessionID: account.SessionID,
		last:      token.AccessToken,
		logger:    logger,
	}

	scheduled, err := s.calendars(r.Context(), ts).Schedule(r.Context(), ev)
	if err != nil {
		var statusErr *calendar.StatusError
		if errors.As(err, &statusErr) {
			logger.Warn("calendar rejected event", zap.Int("calendar_status", statusErr.Status))
		} else {
			logger.Warn("calendar request failed", zap.Error(err))
		}
		writeError(w, http.StatusBadGateway, "calendar_error", "Google Calendar did not accept the event.")
		return
	}

	logger.Info("event created", zap.String("event_id", scheduled.ID))
	writeJSON(w, http.StatusOK, scheduled)
}

func validateEvent(ev calendar.Event) (string, bool) {
	switch {
	case strings.TrimSpace(ev.Title) == "":
		return "Event needs a title.", false
	case ev.Start.IsZero():
		return "Event needs a start time.", false
	case !ev.End.IsZero() && ev.End.Before(ev.Start):
		return "Event ends before it starts.", false
	}
	return "", true
}

// persistingTokenSource saves refreshed tokens back to the account store.
type persistingTokenSource struct {
	base      oauth2.TokenSource
	accounts  *storage.AccountStore
	sessionID string
	logger    *zap.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		if err := p.accounts.SaveToken(p.sessionID, token); err != nil {
			p.logger.Warn("failed to persist refreshed token", zap.Error(err))
		}
	}
	return token, nil
}
