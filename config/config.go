package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type ServerConfig struct {
	Listen        string `toml:"listen"`
	PublicURL     string `toml:"public_url"`
	Database      string `toml:"database"`
	Encryption    string `toml:"encryption"`
	SSHKeyPath    string `toml:"ssh_key_path,omitempty"`
	AllowedOrigin string `toml:"allowed_origin,omitempty"`
}

type GoogleConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
}

type UpstreamConfig struct {
	OpenAIBaseURL    string `toml:"openai_base_url"`
	OpenAIModel      string `toml:"openai_model"`
	AnthropicBaseURL string `toml:"anthropic_base_url"`
	AnthropicModel   string `toml:"anthropic_model"`
}

type ClientConfig struct {
	ServerURL    string `toml:"server_url"`
	Security     string `toml:"security"`
	SSHKeyPath   string `toml:"ssh_key_path,omitempty"`
	Markdown     bool   `toml:"markdown"`
	SystemPrompt string `toml:"system_prompt,omitempty"`
}

type UserConfig struct {
	Server   ServerConfig   `toml:"server"`
	Google   GoogleConfig   `toml:"google"`
	Upstream UpstreamConfig `toml:"upstream"`
	Client   ClientConfig   `toml:"client"`
}

// Config is the resolved configuration: user config plus environment
// overrides. Secret is only ever read from the environment.
type Config struct {
	DataDirectory string
	Server        ServerConfig
	Google        GoogleConfig
	Upstream      UpstreamConfig
	Client        ClientConfig
	Secret        string
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// DatabasePath resolves the account database, relative paths being taken
// from the data directory.
func (c *Config) DatabasePath() string {
	path := ExpandPath(c.Server.Database)
	if path == "" {
		path = "lumen.db"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.DataDir(), path)
	}
	return path
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("LUMEN_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if url := os.Getenv("LUMEN_SERVER_URL"); url != "" {
		c.Client.ServerURL = url
	}
	if listen := os.Getenv("LUMEN_LISTEN"); listen != "" {
		c.Server.Listen = listen
	}
	if secret := os.Getenv("LUMEN_SECRET"); secret != "" {
		c.Secret = secret
	}
	if id := os.Getenv("LUMEN_GOOGLE_CLIENT_ID"); id != "" {
		c.Google.ClientID = id
	}
	if secret := os.Getenv("LUMEN_GOOGLE_CLIENT_SECRET"); secret != "" {
		c.Google.ClientSecret = secret
	}
	if model := os.Getenv("LUMEN_OPENAI_MODEL"); model != "" {
		c.Upstream.OpenAIModel = model
	}
}

func (c *Config) applyUserConfig(u *UserConfig) {
	c.Server = u.Server
	c.Google = u.Google
	c.Upstream = u.Upstream
	c.Client = u.Client
}

func CheckDebug() bool {
	debug := os.Getenv("LUMEN_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the log may contain request metadata
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (LUMEN_DEBUG=%s) ===", os.Getenv("LUMEN_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

// Load reads settings.toml and <data_dir>/config.toml, creating both from
// templates on first run, then applies LUMEN_* environment overrides.
func Load() (*Config, error) {
	cfg := &Config{DataDirectory: GetDefaultDataDir()}

	if dataDir := os.Getenv("LUMEN_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory
	}

	dataDir := cfg.DataDir()
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	switch SecurityMethod(c.Client.Security) {
	case SecurityPlainText, SecuritySSHKey:
	default:
		return fmt.Errorf("invalid client.security %q (use %q or %q)", c.Client.Security, SecurityPlainText, SecuritySSHKey)
	}

	switch EncryptionMethod(c.Server.Encryption) {
	case EncryptionSecret, EncryptionSSHKey:
	default:
		return fmt.Errorf("invalid server.encryption %q (use %q or %q)", c.Server.Encryption, EncryptionSecret, EncryptionSSHKey)
	}

	if c.Client.ServerURL != "" && !strings.HasPrefix(c.Client.ServerURL, "http://") && !strings.HasPrefix(c.Client.ServerURL, "https://") {
		return fmt.Errorf("client.server_url must start with http:// or https://")
	}

	return nil
}
