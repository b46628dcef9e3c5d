// Package credential validates and describes upstream API keys without
// exposing the secret itself.
package credential

import "strings"

const (
	// Prefix every accepted key starts with.
	Prefix = "sk-"

	// MinLength is the shortest key accepted.
	MinLength = 20

	describePrefixLen = 7
	describeSuffixLen = 4
)

// Meta is a loggable description of a key. It never contains the full value.
type Meta struct {
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
	Length int    `json:"length"`
}

// IsValidFormat reports whether key looks like an upstream API key.
// It is a format check only; the key may still be rejected upstream.
func IsValidFormat(key string) bool {
	key = strings.TrimSpace(key)
	return strings.HasPrefix(key, Prefix) && len(key) >= MinLength
}

// Describe returns the first seven and last four characters of key along
// with its length. Short keys yield a shorter prefix and an empty suffix so
// the two never overlap.
func Describe(key string) Meta {
	key = strings.TrimSpace(key)
	m := Meta{Length: len(key)}

	if len(key) <= describePrefixLen+describeSuffixLen {
		m.Prefix = key[:min(len(key), len(Prefix))]
		return m
	}

	m.Prefix = key[:describePrefixLen]
	m.Suffix = key[len(key)-describeSuffixLen:]
	return m
}

// Matches reports whether m describes key.
func (m Meta) Matches(key string) bool {
	return Describe(key) == m
}

// Mask renders the description for display, e.g. "sk-proj…a1b2".
func (m Meta) Mask() string {
	if m.Length == 0 {
		return ""
	}
	return m.Prefix + "…" + m.Suffix
}
