package server

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lumen/config"
	"lumen/credential"
	"lumen/storage"
)

type putKeyRequest struct {
	Key string `json:"key"`
}

type keyResponse struct {
	HasKey bool             `json:"hasKey"`
	Meta   *credential.Meta `json:"meta,omitempty"`
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	account := s.requireSession(w, r, "")
	if account == nil {
		return
	}

	var req putKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.accounts.SetKey(account.SessionID, req.Key)
	switch {
	case errors.Is(err, config.ErrInvalidCredential):
		writeError(w, http.StatusBadRequest, "invalid_credential", err.Error())
		return
	case err != nil:
		s.loggerFrom(r.Context()).Error("store key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Could not store the key.")
		return
	}

	meta := credential.Describe(strings.TrimSpace(req.Key))
	s.loggerFrom(r.Context()).Info("api key stored",
		zap.String("session_id", account.SessionID),
		zap.String("key", meta.Mask()),
	)
	writeJSON(w, http.StatusOK, keyResponse{HasKey: true, Meta: &meta})
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	account := s.requireSession(w, r, "")
	if account == nil {
		return
	}

	meta, err := s.accounts.KeyMeta(account.SessionID)
	switch {
	case errors.Is(err, storage.ErrNoKey):
		writeJSON(w, http.StatusOK, keyResponse{HasKey: false})
	case err != nil:
		s.loggerFrom(r.Context()).Error("load key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Could not load the key.")
	default:
		writeJSON(w, http.StatusOK, keyResponse{HasKey: true, Meta: &meta})
	}
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	account := s.requireSession(w, r, "")
	if account == nil {
		return
	}

	err := s.accounts.DeleteKey(account.SessionID)
	if err != nil && !errors.Is(err, storage.ErrNoKey) {
		s.loggerFrom(r.Context()).Error("delete key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Could not delete the key.")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
