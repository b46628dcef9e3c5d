package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lumen/chat"
)

// ErrSessionNotFound is returned by Load and Delete for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// Session is one saved conversation.
type Session struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Messages     []chat.Message `json:"messages"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
}

// SessionMetadata is a lightweight version of Session for listing
type SessionMetadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	EventCount   int       `json:"event_count"`
}

// SessionStorage handles session persistence
type SessionStorage struct {
	sessionsDir string
}

// NewSessionStorage creates <dataDir>/sessions if needed.
func NewSessionStorage(dataDir string) (*SessionStorage, error) {
	sessionsDir := filepath.Join(dataDir, "sessions")

	// 0700 - user-only access
	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &SessionStorage{
		sessionsDir: sessionsDir,
	}, nil
}

// Save writes a session, assigning an id and a name on first save.
func (s *SessionStorage) Save(session *Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Name == "" {
		session.Name = GenerateSessionName(firstUserMessage(session.Messages))
	}

	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// 0600 - session files contain conversation history
	if err := os.WriteFile(s.path(session.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return nil
}

// Load loads a session from disk
func (s *SessionStorage) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// List returns metadata for all sessions, sorted by update time (newest first)
func (s *SessionStorage) List() ([]SessionMetadata, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []SessionMetadata

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		session, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue // Skip corrupted files
		}

		sessions = append(sessions, session.Metadata())
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// Delete deletes a session from disk
func (s *SessionStorage) Delete(id string) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	current, _ := s.LoadCurrentSessionID()
	if current == id {
		_ = os.Remove(s.currentPath())
	}

	return nil
}

// SaveCurrentSessionID saves the ID of the current session
func (s *SessionStorage) SaveCurrentSessionID(id string) error {
	return os.WriteFile(s.currentPath(), []byte(id), 0600)
}

// LoadCurrentSessionID loads the ID of the last active session. It returns
// an empty id when none was recorded.
func (s *SessionStorage) LoadCurrentSessionID() (string, error) {
	data, err := os.ReadFile(s.currentPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// RenameSession updates the name of a session
func (s *SessionStorage) RenameSession(id string, newName string) error {
	session, err := s.Load(id)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	session.Name = newName

	if err := s.Save(session); err != nil {
		return fmt.Errorf("failed to save renamed session: %w", err)
	}

	return nil
}

func (s *SessionStorage) path(id string) string {
	return filepath.Join(s.sessionsDir, SanitizeFilename(id)+".json")
}

func (s *SessionStorage) currentPath() string {
	return filepath.Join(filepath.Dir(s.sessionsDir), "current_session.id")
}

// Metadata summarizes the session for listings.
func (s *Session) Metadata() SessionMetadata {
	events := 0
	for _, m := range s.Messages {
		if m.CalendarEvent != nil {
			events++
		}
	}
	return SessionMetadata{
		ID:           s.ID,
		Name:         s.Name,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
		EventCount:   events,
	}
}

// SanitizeFilename removes or replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '\n', '\r':
			return '-'
		}
		return r
	}, name)

	// Remove leading/trailing hyphens and dots
	name = strings.Trim(name, "-.")

	if len(name) > 50 {
		name = name[:50]
	}

	if name == "" {
		name = "session"
	}

	return name
}

// GenerateSessionName generates a session name from the first user message
func GenerateSessionName(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return fmt.Sprintf("Session %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	runes := []rune(name)
	if len(runes) > 30 {
		name = strings.TrimSpace(string(runes[:30])) + "..."
	}

	return name
}

func firstUserMessage(messages []chat.Message) string {
	for _, m := range messages {
		if m.Role == chat.RoleUser {
			return m.Content
		}
	}
	return ""
}

// Recorder saves a controller's conversation into one session after every
// completed turn.
type Recorder struct {
	store *SessionStorage

	mu      sync.Mutex
	session *Session
}

// NewRecorder binds to session; a nil session starts a new one.
func NewRecorder(store *SessionStorage, session *Session) *Recorder {
	if session == nil {
		session = &Session{}
	}
	return &Recorder{store: store, session: session}
}

// Record implements chat.Recorder.
func (r *Recorder) Record(messages []chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session.Messages = messages
	if err := r.store.Save(r.session); err != nil {
		return err
	}
	return r.store.SaveCurrentSessionID(r.session.ID)
}

// Reset binds the recorder to a fresh session. The previous session keeps
// whatever was recorded into it.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.session = &Session{}
	r.mu.Unlock()
}

// Session returns a copy of the bound session.
func (r *Recorder) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.session
}
