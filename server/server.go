// Package server is the Lumen backend: Google sign-in, per-user API key
// storage, the streaming chat relay and calendar event creation.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"lumen/calendar"
	"lumen/config"
	"lumen/provider"
	"lumen/storage"
)

const (
	// SessionCookie carries the session id for browser callers.
	SessionCookie = "lumen_session"

	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	maxBodyBytes      = 1 << 20
)

// ProviderFactory builds the upstream for an API key.
type ProviderFactory func(key string) (provider.Provider, error)

// CalendarFactory builds the calendar a session's events are inserted into.
type CalendarFactory func(ctx context.Context, ts oauth2.TokenSource) calendar.Scheduler

// Server holds the backend's dependencies. Build it with New and serve
// Handler.
type Server struct {
	cfg         *config.Config
	accounts    *storage.AccountStore
	logger      *zap.Logger
	oauth       *oauth2.Config
	userInfoURL string
	providers   ProviderFactory
	calendars   CalendarFactory
}

type Option func(*Server)

// WithProviderFactory replaces provider.ForCredential.
func WithProviderFactory(f ProviderFactory) Option {
	return func(s *Server) { s.providers = f }
}

// WithCalendarFactory replaces the Google Calendar client.
func WithCalendarFactory(f CalendarFactory) Option {
	return func(s *Server) { s.calendars = f }
}

// WithOAuthEndpoint points sign-in at another authorization server.
func WithOAuthEndpoint(endpoint oauth2.Endpoint, userInfoURL string) Option {
	return func(s *Server) {
		s.oauth.Endpoint = endpoint
		s.userInfoURL = userInfoURL
	}
}

func New(cfg *config.Config, accounts *storage.AccountStore, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	scopes := cfg.Google.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultGoogleScopes
	}

	s := &Server{
		cfg:      cfg,
		accounts: accounts,
		logger:   logger,
		oauth: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
		providers: func(key string) (provider.Provider, error) {
			return provider.ForCredential(key, cfg.Upstream)
		},
		calendars: func(ctx context.Context, ts oauth2.TokenSource) calendar.Scheduler {
			return calendar.NewGoogleCalendar(ctx, ts)
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the routed, middleware-wrapped backend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/me", s.handleMe)

	mux.HandleFunc("PUT /api/key", s.handlePutKey)
	mux.HandleFunc("GET /api/key", s.handleGetKey)
	mux.HandleFunc("DELETE /api/key", s.handleDeleteKey)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/calendar/events", s.handleCreateEvent)

	return chainMiddlewares(mux,
		s.withCORS,
		s.withAccessLog,
		s.withRecovery,
		s.withRequestID,
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON.")
		return false
	}
	return true
}
