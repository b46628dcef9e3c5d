package storage

import (
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"lumen/chat"
)

const previewLength = 100

// FindSessions filters listed sessions by a fuzzy match on their names,
// best match first. An empty query returns the list unchanged.
func FindSessions(sessions []SessionMetadata, query string) []SessionMetadata {
	if query == "" {
		return sessions
	}

	targets := make([]string, len(sessions))
	for i, s := range sessions {
		targets[i] = s.Name
	}

	matches := fuzzy.Find(query, targets)
	found := make([]SessionMetadata, len(matches))
	for i, match := range matches {
		found[i] = sessions[match.Index]
	}
	return found
}

// MessageMatch is a message containing a search query.
type MessageMatch struct {
	SessionID    string
	SessionName  string
	MessageIndex int
	Role         chat.Role
	Preview      string
	Timestamp    time.Time
}

// SearchMessages does a case-insensitive substring search over every saved
// conversation. System messages are skipped.
func (s *SessionStorage) SearchMessages(query string) ([]MessageMatch, error) {
	if query == "" {
		return nil, nil
	}

	sessionList, err := s.List()
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	var matches []MessageMatch

	for _, meta := range sessionList {
		session, err := s.Load(meta.ID)
		if err != nil {
			continue
		}

		for i, msg := range session.Messages {
			if msg.Role == chat.RoleSystem {
				continue
			}
			if !strings.Contains(strings.ToLower(msg.Content), queryLower) {
				continue
			}

			matches = append(matches, MessageMatch{
				SessionID:    session.ID,
				SessionName:  session.Name,
				MessageIndex: i,
				Role:         msg.Role,
				Preview:      preview(msg.Content),
				Timestamp:    msg.Timestamp,
			})
		}
	}

	return matches, nil
}

func preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "..."
	}
	return content
}
