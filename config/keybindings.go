package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// KeyBindingsConfig holds modifier customization and optional per-action overrides
type KeyBindingsConfig struct {
	Modifiers ModifierConfig    `toml:"modifiers"`
	Actions   map[string]string `toml:"actions"`
}

type ModifierConfig struct {
	Primary   string `toml:"primary"`
	Secondary string `toml:"secondary"`
}

type actionDef struct {
	modifier string // "primary", "secondary" or "none"
	key      string
}

var actionRegistry = map[string]actionDef{
	"send":               {"none", "enter"},
	"new_conversation":   {"primary", "n"},
	"schedule_event":     {"primary", "e"},
	"yank_last_response": {"primary", "y"},
	"yank_conversation":  {"secondary", "y"},
	"quit":               {"primary", "c"},
	"scroll_up":          {"none", "pgup"},
	"scroll_down":        {"none", "pgdown"},
	"clear_input":        {"primary", "u"},
	"help":               {"secondary", "h"},
}

// Actions lists every bindable action name, sorted.
func Actions() []string {
	names := make([]string, 0, len(actionRegistry))
	for name := range actionRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func DefaultKeybindings() *KeyBindingsConfig {
	return &KeyBindingsConfig{
		Modifiers: ModifierConfig{
			Primary:   "ctrl",
			Secondary: "alt",
		},
	}
}

// LoadKeybindings loads keybindings.toml from dataDir, writing the template
// on first run.
func LoadKeybindings(dataDir string) (*KeyBindingsConfig, error) {
	cfg := DefaultKeybindings()
	if err := loadOrCreateTOML(filepath.Join(dataDir, "keybindings.toml"), GenerateKeybindingsTemplate(), cfg); err != nil {
		return nil, err
	}

	for action := range cfg.Actions {
		if _, ok := actionRegistry[action]; !ok && DebugLog != nil {
			DebugLog.Printf("[Keybindings] Ignoring unknown action %q", action)
		}
	}

	return cfg, nil
}

func GenerateKeybindingsTemplate() string {
	return `# Lumen Keybindings Configuration
# Location: <data_directory>/keybindings.toml

[modifiers]
primary = "ctrl"    # new conversation, schedule event, copy, quit
secondary = "alt"   # copy whole conversation, help

[actions]
# Override single actions, e.g.:
#   schedule_event = "ctrl+k"
#   quit = "ctrl+q"
#
# Actions: send, new_conversation, schedule_event, yank_last_response,
# yank_conversation, quit, scroll_up, scroll_down, clear_input, help
`
}

func (kb *KeyBindingsConfig) Primary() string {
	if kb.Modifiers.Primary == "" {
		return "ctrl"
	}
	return kb.Modifiers.Primary
}

func (kb *KeyBindingsConfig) Secondary() string {
	if kb.Modifiers.Secondary == "" {
		return "alt"
	}
	return kb.Modifiers.Secondary
}

// GetActionKey returns the user override for action, else its default built
// from the configured modifiers. Unknown actions yield "".
func (kb *KeyBindingsConfig) GetActionKey(action string) string {
	if override, ok := kb.Actions[action]; ok && override != "" {
		return override
	}

	def, ok := actionRegistry[action]
	if !ok {
		return ""
	}

	switch def.modifier {
	case "primary":
		return kb.Primary() + "+" + def.key
	case "secondary":
		return kb.Secondary() + "+" + def.key
	default:
		return def.key
	}
}

// DisplayActionKey formats an action's key for the help line, e.g. "Ctrl+N".
func (kb *KeyBindingsConfig) DisplayActionKey(action string) string {
	key := kb.GetActionKey(action)
	if key == "" {
		return ""
	}

	parts := strings.Split(key, "+")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "+")
}

// Validate returns (isValid, warningMessage). Two actions bound to the same
// key are a conflict.
func (kb *KeyBindingsConfig) Validate() (bool, string) {
	if kb.Primary() == "shift" || kb.Secondary() == "shift" {
		return false, "Shift alone conflicts with typing"
	}

	owner := make(map[string]string)
	for _, action := range Actions() {
		key := kb.GetActionKey(action)
		if other, taken := owner[key]; taken {
			return false, fmt.Sprintf("%s and %s cannot share %q", other, action, key)
		}
		owner[key] = action
	}
	return true, ""
}
