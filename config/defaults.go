package config

const (
	DefaultListen         = "127.0.0.1:8787"
	DefaultServerURL      = "http://127.0.0.1:8787"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
)

// DefaultGoogleScopes covers sign-in and event creation.
var DefaultGoogleScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/calendar.events",
}

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/lumen",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Server: ServerConfig{
			Listen:     DefaultListen,
			PublicURL:  DefaultServerURL,
			Database:   "lumen.db",
			Encryption: string(EncryptionSecret),
		},
		Google: GoogleConfig{
			RedirectURL: DefaultServerURL + "/auth/callback",
			Scopes:      DefaultGoogleScopes,
		},
		Upstream: UpstreamConfig{
			OpenAIModel:    DefaultOpenAIModel,
			AnthropicModel: DefaultAnthropicModel,
		},
		Client: ClientConfig{
			ServerURL: DefaultServerURL,
			Security:  string(SecurityPlainText),
			Markdown:  true,
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Lumen System Configuration
# Location: ~/.config/lumen/settings.toml
# This file uses TOML format: https://toml.io

# Directory where conversations, the account database and user config are stored
data_directory = "~/.local/share/lumen"
`
}

func GenerateUserConfigTemplate() string {
	return `# Lumen User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[server]
# Address "lumen serve" listens on
listen = "127.0.0.1:8787"

# URL browsers and clients use to reach the server
public_url = "http://127.0.0.1:8787"

# SQLite account database (relative to the data directory)
database = "lumen.db"

# How stored API keys and OAuth tokens are encrypted:
#   "secret"  - key derived from the LUMEN_SECRET environment variable
#   "ssh_key" - key derived from the SSH key at ssh_key_path
encryption = "secret"
# ssh_key_path = "~/.ssh/lumen_ed25519"

# Origin allowed to call the API from a browser (optional)
# allowed_origin = "http://localhost:5173"

[google]
# OAuth client from https://console.cloud.google.com/apis/credentials
# Prefer LUMEN_GOOGLE_CLIENT_ID / LUMEN_GOOGLE_CLIENT_SECRET
client_id = ""
client_secret = ""
redirect_url = "http://127.0.0.1:8787/auth/callback"
scopes = ["openid", "https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/calendar.events"]

[upstream]
# Empty base URLs use the providers' public endpoints
openai_base_url = ""
openai_model = "gpt-4o-mini"
anthropic_base_url = ""
anthropic_model = "claude-3-5-haiku-latest"

[client]
# Server "lumen chat" talks to
server_url = "http://127.0.0.1:8787"

# Local API key storage: "plaintext" (0600 TOML) or "ssh_key" (encrypted)
security = "plaintext"
# ssh_key_path = "~/.ssh/id_ed25519"

# Render finished replies as markdown
markdown = true

# Replaces the built-in system prompt (optional)
# system_prompt = ""
`
}
