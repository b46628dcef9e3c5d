package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"

	"lumen/config"
	"lumen/credential"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNoKey          = errors.New("no api key stored")
)

// Account is a signed-in backend session.
type Account struct {
	SessionID string
	Email     string
	CreatedAt time.Time
}

// AccountStore keeps backend sessions, their Google OAuth tokens and each
// user's API key in SQLite. Tokens and keys are sealed with the server's
// EncryptionManager before they are written; only credential.Meta is kept
// in the clear.
type AccountStore struct {
	db  *sql.DB
	enc *config.EncryptionManager
}

// NewAccountStore opens (or creates) the database at dbPath. enc must be
// initialized.
func NewAccountStore(dbPath string, enc *config.EncryptionManager) (*AccountStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &AccountStore{db: db, enc: enc}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *AccountStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		token BLOB,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_email ON sessions(email);

	CREATE TABLE IF NOT EXISTS api_keys (
		email TEXT PRIMARY KEY,
		ciphertext BLOB NOT NULL,
		prefix TEXT NOT NULL,
		suffix TEXT NOT NULL,
		length INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession starts a session for email holding token.
func (s *AccountStore) CreateSession(email string, token *oauth2.Token) (*Account, error) {
	sealed, err := s.sealToken(token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account := &Account{
		SessionID: uuid.New().String(),
		Email:     email,
		CreatedAt: now,
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (id, email, token, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		account.SessionID, email, sealed, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return account, nil
}

// Session looks up a session by id.
func (s *AccountStore) Session(id string) (*Account, error) {
	var account Account
	err := s.db.QueryRow(
		`SELECT id, email, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&account.SessionID, &account.Email, &account.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return &account, nil
}

// DeleteSession signs a session out. The user's API key is kept.
func (s *AccountStore) DeleteSession(id string) error {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return expectRow(result, ErrUnknownSession)
}

// Token returns the session's decrypted OAuth token.
func (s *AccountStore) Token(id string) (*oauth2.Token, error) {
	var sealed []byte
	err := s.db.QueryRow(`SELECT token FROM sessions WHERE id = ?`, id).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if len(sealed) == 0 {
		return nil, fmt.Errorf("session %s has no oauth token", id)
	}

	data, err := s.enc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// SaveToken replaces the session's token, e.g. after a refresh.
func (s *AccountStore) SaveToken(id string, token *oauth2.Token) error {
	sealed, err := s.sealToken(token)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(
		`UPDATE sessions SET token = ?, updated_at = ? WHERE id = ?`,
		sealed, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return expectRow(result, ErrUnknownSession)
}

// SetKey validates and stores the API key for the session's user.
func (s *AccountStore) SetKey(sessionID, key string) error {
	key = strings.TrimSpace(key)
	if !credential.IsValidFormat(key) {
		return config.ErrInvalidCredential
	}

	account, err := s.Session(sessionID)
	if err != nil {
		return err
	}

	sealed, err := s.enc.Encrypt([]byte(key))
	if err != nil {
		return fmt.Errorf("failed to encrypt key: %w", err)
	}

	meta := credential.Describe(key)
	_, err = s.db.Exec(`
	INSERT OR REPLACE INTO api_keys (email, ciphertext, prefix, suffix, length, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`,
		account.Email, sealed, meta.Prefix, meta.Suffix, meta.Length, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	return nil
}

// Key returns the decrypted API key of the session's user.
func (s *AccountStore) Key(sessionID string) (string, error) {
	account, err := s.Session(sessionID)
	if err != nil {
		return "", err
	}

	var sealed []byte
	err = s.db.QueryRow(`SELECT ciphertext FROM api_keys WHERE email = ?`, account.Email).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoKey
	}
	if err != nil {
		return "", fmt.Errorf("failed to load key: %w", err)
	}

	key, err := s.enc.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt key: %w", err)
	}
	return string(key), nil
}

// KeyMeta describes the stored key without decrypting it.
func (s *AccountStore) KeyMeta(sessionID string) (credential.Meta, error) {
	account, err := s.Session(sessionID)
	if err != nil {
		return credential.Meta{}, err
	}

	var meta credential.Meta
	err = s.db.QueryRow(
		`SELECT prefix, suffix, length FROM api_keys WHERE email = ?`, account.Email,
	).Scan(&meta.Prefix, &meta.Suffix, &meta.Length)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Meta{}, ErrNoKey
	}
	if err != nil {
		return credential.Meta{}, fmt.Errorf("failed to load key metadata: %w", err)
	}
	return meta, nil
}

// DeleteKey removes the stored key of the session's user.
func (s *AccountStore) DeleteKey(sessionID string) error {
	account, err := s.Session(sessionID)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`DELETE FROM api_keys WHERE email = ?`, account.Email)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return expectRow(result, ErrNoKey)
}

func (s *AccountStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *AccountStore) sealToken(token *oauth2.Token) ([]byte, error) {
	if token == nil {
		return nil, nil
	}
	data, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	sealed, err := s.enc.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}
	return sealed, nil
}

func expectRow(result sql.Result, missing error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return missing
	}
	return nil
}
