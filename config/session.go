package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ClientSession is the backend session `lumen login` obtained.
type ClientSession struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionFile persists the client session next to the credentials and with
// the same protection: plain JSON for plaintext, encrypted for ssh_key.
type SessionFile struct {
	dataDir  string
	security SecurityMethod
	encMgr   *EncryptionManager
	mu       sync.RWMutex
}

func NewSessionFile(dataDir string, security SecurityMethod, encMgr *EncryptionManager) *SessionFile {
	return &SessionFile{
		dataDir:  dataDir,
		security: security,
		encMgr:   encMgr,
	}
}

// Get returns the stored session, or nil when there is none.
func (s *SessionFile) Get() (*ClientSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if s.security == SecuritySSHKey {
		if s.encMgr == nil {
			return nil, fmt.Errorf("encryption manager not initialized")
		}
		data, err = s.encMgr.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt session: %w", err)
		}
	}

	var session ClientSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (s *SessionFile) Save(session *ClientSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if s.security == SecuritySSHKey {
		if s.encMgr == nil {
			return fmt.Errorf("encryption manager not initialized")
		}
		data, err = s.encMgr.Encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
	}

	if err := EnsureDir(s.dataDir); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	if err := os.WriteFile(s.path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return nil
}

func (s *SessionFile) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *SessionFile) path() string {
	if s.security == SecuritySSHKey {
		return filepath.Join(s.dataDir, "session.enc")
	}
	return filepath.Join(s.dataDir, "session.json")
}
