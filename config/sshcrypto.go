package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// ErrNoSSHKey is returned by ResolveSSHKeyPath when nothing usable exists.
var ErrNoSSHKey = errors.New("no SSH private key found")

// Candidate names in ~/.ssh, most specific first.
var sshKeyNames = []string{
	"lumen_ed25519",
	"id_ed25519",
	"id_ecdsa",
	"id_rsa",
}

// loadSSHSigner parses the key at keyPath. An empty passphrase means the key
// is not encrypted.
func loadSSHSigner(keyPath, passphrase string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(ExpandPath(keyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}

	if passphrase == "" {
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key (wrong passphrase?): %w", err)
	}
	return signer, nil
}

// IsSSHKeyEncrypted reports whether the key needs a passphrase, without
// trying one.
func IsSSHKeyEncrypted(keyPath string) (bool, error) {
	_, err := loadSSHSigner(keyPath, "")
	if err == nil {
		return false, nil
	}

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return true, nil
	}
	return false, err
}

// FindSSHKeys lists the private keys in ~/.ssh that lumen knows by name.
func FindSSHKeys() []string {
	sshDir := filepath.Join(GetHomeDir(), ".ssh")

	var found []string
	for _, name := range sshKeyNames {
		path := filepath.Join(sshDir, name)
		if looksLikePrivateKey(path) {
			found = append(found, path)
		}
	}
	return found
}

// ResolveSSHKeyPath expands a configured path, or picks the first key
// FindSSHKeys reports when none is configured.
func ResolveSSHKeyPath(configured string) (string, error) {
	if configured != "" {
		return ExpandPath(configured), nil
	}

	keys := FindSSHKeys()
	if len(keys) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoSSHKey, filepath.Join(GetHomeDir(), ".ssh"))
	}
	return keys[0], nil
}

func looksLikePrivateKey(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte("BEGIN")) && bytes.Contains(data, []byte("PRIVATE KEY"))
}
