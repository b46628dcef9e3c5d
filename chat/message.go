package chat

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"lumen/calendar"
)

// Role is who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation. Messages are never edited after
// they are appended.
type Message struct {
	ID            string          `json:"id"`
	Role          Role            `json:"role"`
	Content       string          `json:"content"`
	Timestamp     time.Time       `json:"timestamp"`
	CalendarEvent *calendar.Event `json:"calendarEvent,omitempty"`
	// Fallback marks an assistant message standing in for a failed reply.
	Fallback      bool            `json:"fallback,omitempty"`
}

// NewMessage stamps a message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        newID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func newID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("msg-%d", time.Now().UnixNano())
	}
	return id
}

func newFallback(err error) Message {
	msg := NewMessage(RoleAssistant, FallbackFor(err))
	msg.Fallback = true
	return msg
}
