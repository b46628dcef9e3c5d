package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/chat"
)

func TestFindSessions(t *testing.T) {
	sessions := []SessionMetadata{
		{ID: "1", Name: "Dentist appointment"},
		{ID: "2", Name: "Weekly planning"},
		{ID: "3", Name: "Dinner with parents"},
	}

	assert.Equal(t, sessions, FindSessions(sessions, ""))

	found := FindSessions(sessions, "dntst")
	require.Len(t, found, 1)
	assert.Equal(t, "1", found[0].ID)

	assert.Empty(t, FindSessions(sessions, "zzz"))
}

func TestSearchMessages(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Save(&Session{
		Name: "lunch",
		Messages: []chat.Message{
			chat.NewMessage(chat.RoleSystem, "You plan lunches."),
			chat.NewMessage(chat.RoleUser, "Book LUNCH on Friday"),
			chat.NewMessage(chat.RoleAssistant, "Done."),
		},
	}))
	require.NoError(t, s.Save(&Session{
		Name:     "other",
		Messages: []chat.Message{chat.NewMessage(chat.RoleUser, "Nothing here")},
	}))

	matches, err := s.SearchMessages("lunch")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "lunch", matches[0].SessionName)
	assert.Equal(t, 1, matches[0].MessageIndex)
	assert.Equal(t, chat.RoleUser, matches[0].Role)
	assert.Equal(t, "Book LUNCH on Friday", matches[0].Preview)

	matches, err = s.SearchMessages("")
	require.NoError(t, err)
	assert.Empty(t, matches)
}
