package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"lumen/credential"
)

// SecurityMethod defines how the local API key is stored
type SecurityMethod string

const (
	SecurityPlainText SecurityMethod = "plaintext"
	SecuritySSHKey    SecurityMethod = "ssh_key"
)

var ErrInvalidCredential = errors.New("API key must start with \"sk-\" and be at least 20 characters")

// CredentialStore keeps the user's upstream API key on disk, either in a
// 0600 TOML file or encrypted with an SSH key.
type CredentialStore struct {
	method     SecurityMethod
	apiKey     string
	sshKeyPath string
	passphrase string
	encManager *EncryptionManager
}

func NewCredentialStore(method SecurityMethod, sshKeyPath string) *CredentialStore {
	return &CredentialStore{
		method:     method,
		sshKeyPath: sshKeyPath,
	}
}

// SetPassphrase sets the passphrase for decrypting the SSH key
func (c *CredentialStore) SetPassphrase(passphrase string) {
	c.passphrase = passphrase
	if c.encManager != nil {
		c.encManager.SetPassphrase(passphrase)
	}
}

// Load reads the key from dataDir. A missing file leaves the store empty.
func (c *CredentialStore) Load(dataDir string) error {
	var (
		key string
		err error
	)

	switch c.method {
	case SecurityPlainText:
		key, err = loadPlainText(dataDir)
	case SecuritySSHKey:
		key, err = c.loadSSHEncrypted(dataDir)
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
	if err != nil {
		return err
	}

	c.apiKey = key
	return nil
}

// Save writes the key to dataDir.
func (c *CredentialStore) Save(dataDir string) error {
	switch c.method {
	case SecurityPlainText:
		return savePlainText(dataDir, c.apiKey)
	case SecuritySSHKey:
		return c.saveSSHEncrypted(dataDir)
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
}

func (c *CredentialStore) Key() string {
	return c.apiKey
}

// Meta describes the stored key without revealing it.
func (c *CredentialStore) Meta() credential.Meta {
	return credential.Describe(c.apiKey)
}

// Set replaces the key. Keys that are not shaped like an API key are rejected.
func (c *CredentialStore) Set(key string) error {
	if !credential.IsValidFormat(key) {
		return ErrInvalidCredential
	}
	c.apiKey = key
	return nil
}

func (c *CredentialStore) Clear() {
	c.apiKey = ""
}

func credentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.toml")
}

func encryptedCredentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.enc")
}

type credentialsFile struct {
	Credential struct {
		APIKey string `toml:"api_key" json:"api_key"`
	} `toml:"credential"`
}

// ===== Plain Text Storage =====

func loadPlainText(dataDir string) (string, error) {
	path := credentialsPath(dataDir)
	if !FileExists(path) {
		return "", nil
	}

	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	return cf.Credential.APIKey, nil
}

func savePlainText(dataDir, key string) error {
	var cf credentialsFile
	cf.Credential.APIKey = key

	f, err := os.OpenFile(credentialsPath(dataDir), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create credentials file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cf); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	return nil
}

// ===== SSH Key Encrypted Storage =====

func (c *CredentialStore) ensureEncryption() error {
	// Reinitialize if manager doesn't exist OR if we now have a passphrase
	if c.encManager != nil && c.passphrase == "" {
		return nil
	}

	c.encManager = NewEncryptionManager(EncryptionSSHKey, c.sshKeyPath)
	c.encManager.SetPassphrase(c.passphrase)
	if err := c.encManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}
	return nil
}

func (c *CredentialStore) loadSSHEncrypted(dataDir string) (string, error) {
	path := encryptedCredentialsPath(dataDir)
	if !FileExists(path) {
		return "", nil
	}

	if err := c.ensureEncryption(); err != nil {
		return "", err
	}

	encryptedData, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read encrypted credentials: %w", err)
	}

	decryptedData, err := c.encManager.Decrypt(encryptedData)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var cf credentialsFile
	if err := json.Unmarshal(decryptedData, &cf.Credential); err != nil {
		return "", fmt.Errorf("failed to parse decrypted credentials: %w", err)
	}

	return cf.Credential.APIKey, nil
}

func (c *CredentialStore) saveSSHEncrypted(dataDir string) error {
	if err := c.ensureEncryption(); err != nil {
		return err
	}

	var cf credentialsFile
	cf.Credential.APIKey = c.apiKey

	jsonData, err := json.Marshal(cf.Credential)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	encryptedData, err := c.encManager.Encrypt(jsonData)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	if err := os.WriteFile(encryptedCredentialsPath(dataDir), encryptedData, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted credentials: %w", err)
	}

	return nil
}
