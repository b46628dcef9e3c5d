package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"lumen/chat"
	"lumen/storage"
)

const (
	sessionHeader  = chat.SessionHeader
	stateCookie    = "lumen_oauth_state"
	verifierCookie = "lumen_oauth_verifier"
	oauthCookieAge = 300
)

var errNoSession = errors.New("no session")

// session resolves the caller's session from the X-Session-ID header, the
// session cookie, or fallback (a session id carried in the body).
func (s *Server) session(r *http.Request, fallback string) (*storage.Account, error) {
	id := strings.TrimSpace(r.Header.Get(sessionHeader))
	if id == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = strings.TrimSpace(fallback)
	}
	if id == "" {
		return nil, errNoSession
	}
	return s.accounts.Session(id)
}

// requireSession writes 403 and returns nil when the caller has no valid
// session. 401 is kept for credential failures so clients can tell the two
// apart.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, fallback string) *storage.Account {
	account, err := s.session(r, fallback)
	switch {
	case err == nil:
		return account
	case errors.Is(err, errNoSession), errors.Is(err, storage.ErrUnknownSession):
		writeError(w, http.StatusForbidden, "session_required", "Sign in with `lumen login` first.")
	default:
		s.loggerFrom(r.Context()).Error("session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Could not load session.")
	}
	return nil
}

func (s *Server) oauthConfigured() bool {
	return s.oauth.ClientID != "" && s.oauth.ClientSecret != ""
}

// handleLogin redirects to Google's consent screen. State and the PKCE
// verifier travel in short-lived HttpOnly cookies.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.oauthConfigured() {
		writeError(w, http.StatusServiceUnavailable, "oauth_not_configured", "Google sign-in is not configured on this server.")
		return
	}

	state, err := gonanoid.New(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Could not start sign-in.")
		return
	}
	verifier := oauth2.GenerateVerifier()

	setShortCookie(w, r, stateCookie, state, oauthCookieAge)
	setShortCookie(w, r, verifierCookie, verifier, oauthCookieAge)

	url := s.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	http.Redirect(w, r, url, http.StatusFound)
}

// loginResponse is returned by the callback and /api/me.
type loginResponse struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	HasKey    bool   `json:"hasKey"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	logger := s.loggerFrom(r.Context())
	query := r.URL.Query()

	if reason := query.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "oauth_denied", reason)
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || query.Get("state") != state.Value {
		writeError(w, http.StatusBadRequest, "invalid_state", "Sign-in expired or was tampered with. Try again.")
		return
	}
	verifier, err := r.Cookie(verifierCookie)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "Sign-in expired. Try again.")
		return
	}

	setShortCookie(w, r, stateCookie, "", -1)
	setShortCookie(w, r, verifierCookie, "", -1)

	token, err := s.oauth.Exchange(r.Context(), query.Get("code"), oauth2.VerifierOption(verifier.Value))
	if err != nil {
		logger.Warn("oauth exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "token_exchange_failed", "Google rejected the sign-in.")
		return
	}

	email, err := s.fetchEmail(r, token)
	if err != nil {
		logger.Warn("userinfo failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "user_info_failed", "Could not read your Google account.")
		return
	}

	account, err := s.accounts.CreateSession(email, token)
	if err != nil {
		logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Could not create session.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    account.SessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	logger.Info("signed in", zap.String("session_id", account.SessionID))
	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: account.SessionID,
		Email:     account.Email,
		HasKey:    s.hasKey(account.SessionID),
	})
}

func (s *Server) fetchEmail(r *http.Request, token *oauth2.Token) (string, error) {
	client := s.oauth.Client(r.Context(), token)
	resp, err := client.Get(s.userInfoURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	email := gjson.GetBytes(body, "email").String()
	if email == "" {
		return "", fmt.Errorf("userinfo has no email")
	}
	return email, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	account := s.requireSession(w, r, "")
	if account == nil {
		return
	}

	if err := s.accounts.DeleteSession(account.SessionID); err != nil && !errors.Is(err, storage.ErrUnknownSession) {
		s.loggerFrom(r.Context()).Error("logout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Could not sign out.")
		return
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	account := s.requireSession(w, r, "")
	if account == nil {
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: account.SessionID,
		Email:     account.Email,
		HasKey:    s.hasKey(account.SessionID),
	})
}

func (s *Server) hasKey(sessionID string) bool {
	_, err := s.accounts.KeyMeta(sessionID)
	return err == nil
}

func setShortCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
