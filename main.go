package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lumen/config"
	"lumen/ui"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Chat assistant that turns plans into calendar events",
	Long: `Lumen is a terminal chat client and backend.

The backend (lumen serve) signs users in with Google, keeps their API key
encrypted, relays chat replies as a stream and adds events to Google
Calendar. The client (lumen chat) shows replies as they arrive and offers
to schedule any event the assistant proposes.

Run without arguments to open the chat screen.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	addChatFlags(rootCmd)

	rootCmd.AddCommand(
		serveCmd,
		chatCmd,
		loginCmd,
		logoutCmd,
		keyCmd,
		historyCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the configuration and starts the debug log.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	config.InitDebugLog(cfg.DataDir())
	return cfg, nil
}

// localState is what every client command reads from the data directory:
// the stored API key and the backend session from `lumen login`.
type localState struct {
	cfg         *config.Config
	credentials *config.CredentialStore
	sessionFile *config.SessionFile
}

func openLocalState(cfg *config.Config) (*localState, error) {
	method := config.SecurityMethod(cfg.Client.Security)
	store := config.NewCredentialStore(method, "")

	var enc *config.EncryptionManager
	if method == config.SecuritySSHKey {
		keyPath, err := config.ResolveSSHKeyPath(cfg.Client.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("client.security is %q: %w", config.SecuritySSHKey, err)
		}

		passphrase, err := sshPassphrase(keyPath)
		if err != nil {
			return nil, err
		}

		store = config.NewCredentialStore(method, keyPath)
		store.SetPassphrase(passphrase)

		enc = config.NewEncryptionManager(config.EncryptionSSHKey, keyPath)
		enc.SetPassphrase(passphrase)
		if err := enc.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to unlock SSH key: %w", err)
		}
	}

	if err := store.Load(cfg.DataDir()); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	return &localState{
		cfg:         cfg,
		credentials: store,
		sessionFile: config.NewSessionFile(cfg.DataDir(), method, enc),
	}, nil
}

// sshPassphrase asks for the key's passphrase only when it has one.
func sshPassphrase(keyPath string) (string, error) {
	encrypted, err := config.IsSSHKeyEncrypted(keyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read SSH key: %w", err)
	}
	if !encrypted {
		return "", nil
	}
	return ui.PromptPassphrase(keyPath)
}

func (s *localState) serverURL() string {
	if s.cfg.Client.ServerURL != "" {
		return s.cfg.Client.ServerURL
	}
	return config.DefaultServerURL
}

// account returns the signed-in session, nil when `lumen login` never ran.
func (s *localState) account() (*config.ClientSession, error) {
	session, err := s.sessionFile.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read login session: %w", err)
	}
	return session, nil
}
