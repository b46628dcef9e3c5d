package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"LUMEN_DATA_DIR", "LUMEN_SERVER_URL", "LUMEN_LISTEN", "LUMEN_SECRET",
		"LUMEN_GOOGLE_CLIENT_ID", "LUMEN_GOOGLE_CLIENT_SECRET", "LUMEN_OPENAI_MODEL",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadCreatesDefaults(t *testing.T) {
	home := setupHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wantDataDir := filepath.Join(home, ".local", "share", "lumen")
	if cfg.DataDir() != wantDataDir {
		t.Errorf("DataDir() = %q, want %q", cfg.DataDir(), wantDataDir)
	}
	if !FileExists(GetSettingsFilePath()) {
		t.Error("settings.toml was not created")
	}
	if !FileExists(filepath.Join(wantDataDir, "config.toml")) {
		t.Error("config.toml was not created")
	}

	info, err := os.Stat(wantDataDir)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("data dir perms = %o, want 0700", info.Mode().Perm())
	}

	if cfg.Server.Listen != DefaultListen {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, DefaultListen)
	}
	if cfg.Client.ServerURL != DefaultServerURL {
		t.Errorf("Client.ServerURL = %q", cfg.Client.ServerURL)
	}
	if cfg.DatabasePath() != filepath.Join(wantDataDir, "lumen.db") {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
}

func TestLoadTemplateMatchesDefaults(t *testing.T) {
	setupHome(t)
	dataDir := t.TempDir()

	// The first load writes the template, the second one parses it.
	if _, err := LoadUserConfig(dataDir); err != nil {
		t.Fatal(err)
	}
	fromTemplate, err := LoadUserConfig(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	defaults := DefaultUserConfig()
	if fromTemplate.Server != defaults.Server {
		t.Errorf("template server = %+v, defaults = %+v", fromTemplate.Server, defaults.Server)
	}
	if fromTemplate.Client != defaults.Client {
		t.Errorf("template client = %+v, defaults = %+v", fromTemplate.Client, defaults.Client)
	}
	if fromTemplate.Upstream != defaults.Upstream {
		t.Errorf("template upstream = %+v, defaults = %+v", fromTemplate.Upstream, defaults.Upstream)
	}
	if strings.Join(fromTemplate.Google.Scopes, " ") != strings.Join(defaults.Google.Scopes, " ") {
		t.Errorf("template scopes = %v", fromTemplate.Google.Scopes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setupHome(t)
	dataDir := filepath.Join(t.TempDir(), "data")

	t.Setenv("LUMEN_DATA_DIR", dataDir)
	t.Setenv("LUMEN_SERVER_URL", "https://lumen.example.com")
	t.Setenv("LUMEN_LISTEN", ":9000")
	t.Setenv("LUMEN_SECRET", "0123456789abcdef0123")
	t.Setenv("LUMEN_GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("LUMEN_GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("LUMEN_OPENAI_MODEL", "gpt-4o")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := map[string][2]string{
		"data dir":      {cfg.DataDir(), dataDir},
		"server url":    {cfg.Client.ServerURL, "https://lumen.example.com"},
		"listen":        {cfg.Server.Listen, ":9000"},
		"secret":        {cfg.Secret, "0123456789abcdef0123"},
		"client id":     {cfg.Google.ClientID, "client-id"},
		"client secret": {cfg.Google.ClientSecret, "client-secret"},
		"model":         {cfg.Upstream.OpenAIModel, "gpt-4o"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}

	if FileExists(GetSettingsFilePath()) {
		t.Error("settings.toml should not be created when LUMEN_DATA_DIR is set")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad security", func(c *Config) { c.Client.Security = "vault" }, true},
		{"bad encryption", func(c *Config) { c.Server.Encryption = "rot13" }, true},
		{"bad server url", func(c *Config) { c.Client.ServerURL = "localhost:8787" }, true},
		{"ssh client", func(c *Config) { c.Client.Security = string(SecuritySSHKey) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyUserConfig(DefaultUserConfig())
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home := setupHome(t)
	t.Setenv("LUMEN_TEST_DIR", "/srv/lumen")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"$LUMEN_TEST_DIR/db", "/srv/lumen/db"},
		{"/tmp//x/", "/tmp/x"},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitDebugLog(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("LUMEN_DEBUG", "1")
	t.Cleanup(func() {
		Debug = false
		DebugLog = nil
	})

	InitDebugLog(dataDir)

	if !Debug || DebugLog == nil {
		t.Fatal("debug logging not enabled")
	}
	DebugLog.Printf("hello")

	data, err := os.ReadFile(filepath.Join(dataDir, "debug.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("debug.log = %q", data)
	}
}
