package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lumen/chat"
	"lumen/config"
	"lumen/credential"
	"lumen/provider"
	"lumen/storage"
	"lumen/stream"
)

type chatResponse struct {
	Content string `json:"content"`
}

// handleChat relays a conversation to the upstream picked by the caller's
// key. Streamed replies are written as SSE frames, one data line per
// content line, ending with the done sentinel. An upstream failure before
// the first delta is a 502 JSON error; after it the stream is cut short.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	account := s.requireSession(w, r, req.SessionID)
	if account == nil {
		return
	}
	logger := s.loggerFrom(r.Context()).With(zap.String("session_id", account.SessionID))

	key, ok := s.resolveKey(w, r, account, req.Credential)
	if !ok {
		return
	}
	if req.CredentialMeta.Length != 0 && !req.CredentialMeta.Matches(key) {
		logger.Warn("credential metadata does not match credential",
			zap.String("claimed", req.CredentialMeta.Mask()),
			zap.String("actual", credential.Describe(key).Mask()),
		)
	}

	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "empty_conversation", "No messages to send.")
		return
	}

	upstream, err := s.providers(key)
	if err != nil {
		logger.Error("provider setup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Could not reach the model provider.")
		return
	}
	logger = logger.With(
		zap.String("upstream", string(upstream.Type())),
		zap.String("model", upstream.GetModel()),
		zap.Bool("stream", req.Stream),
	)

	messages := toProviderMessages(req.Messages)

	if !req.Stream {
		content, err := upstream.Complete(r.Context(), messages)
		if err != nil {
			s.writeUpstreamError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Content: content})
		return
	}

	sse := &sseWriter{w: w}
	err = upstream.Chat(r.Context(), messages, sse.writeDelta)
	switch {
	case err != nil && r.Context().Err() != nil:
		logger.Info("client went away", zap.Int("frames", sse.frames))
		return
	case err != nil && !sse.started:
		s.writeUpstreamError(w, logger, err)
		return
	case err != nil:
		logger.Warn("stream interrupted", zap.Error(err), zap.Int("frames", sse.frames))
		return
	}

	if err := sse.done(); err != nil {
		logger.Warn("failed to finish stream", zap.Error(err))
		return
	}
	logger.Debug("stream finished", zap.Int("frames", sse.frames))
}

// resolveKey prefers the key sent with the request and falls back to the
// one stored for the user.
func (s *Server) resolveKey(w http.ResponseWriter, r *http.Request, account *storage.Account, sent string) (string, bool) {
	key := strings.TrimSpace(sent)
	if key == "" {
		stored, err := s.accounts.Key(account.SessionID)
		switch {
		case errors.Is(err, storage.ErrNoKey):
			writeError(w, http.StatusUnauthorized, "missing_credential", "No API key configured. Run `lumen key set`.")
			return "", false
		case err != nil:
			s.loggerFrom(r.Context()).Error("load key failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "Could not load the key.")
			return "", false
		}
		key = stored
	}

	if !credential.IsValidFormat(key) {
		writeError(w, http.StatusBadRequest, "invalid_credential", config.ErrInvalidCredential.Error())
		return "", false
	}
	return key, true
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) && statusErr.Unauthorized() {
		logger.Info("upstream rejected credential", zap.Int("upstream_status", statusErr.Status))
		writeError(w, http.StatusUnauthorized, "invalid_credential", "The model provider rejected your API key.")
		return
	}

	logger.Warn("upstream request failed", zap.Error(err))
	writeError(w, http.StatusBadGateway, "upstream_error", "The model provider request failed.")
}

func toProviderMessages(messages []chat.WireMessage) []provider.Message {
	result := make([]provider.Message, len(messages))
	for i, m := range messages {
		result[i] = provider.Message{Role: string(m.Role), Content: m.Content}
	}
	return result
}

// sseWriter defers the response header until the first delta so an
// upstream failure can still become a JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	started bool
	frames  int
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseWriter) writeDelta(delta string) error {
	s.start()

	var b strings.Builder
	for _, line := range strings.Split(delta, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", stream.DataPrefix, line)
		s.frames++
	}
	if b.Len() == 0 {
		return nil
	}
	b.WriteString("\n")

	if _, err := s.w.Write([]byte(b.String())); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) done() error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "%s %s\n\n", stream.DataPrefix, stream.DoneSentinel); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}
