package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"lumen/calendar"
	"lumen/chat"
)

// controllerUpdatesMsg carries every chat.Update published since the last
// delivery, in order.
type controllerUpdatesMsg []chat.Update

type markdownRenderedMsg struct {
	MessageID string
	Width     int
	Rendered  string
}

type eventScheduledMsg struct {
	MessageID string
	Result    calendar.Scheduled
	Err       error
}

type noticeExpiredMsg struct {
	seq int
}

// updateQueue hands controller updates to the bubbletea loop. Observers run
// on controller goroutines and sometimes inside Update itself (Abandon), so
// push must never block.
type updateQueue struct {
	mu      sync.Mutex
	pending []chat.Update
	ready   chan struct{}
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{ready: make(chan struct{}, 1)}
}

func (q *updateQueue) push(u chat.Update) {
	q.mu.Lock()
	q.pending = append(q.pending, u)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *updateQueue) drain() []chat.Update {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

// wait blocks until updates are pending and delivers them as one message.
func (q *updateQueue) wait() tea.Cmd {
	return func() tea.Msg {
		<-q.ready
		return controllerUpdatesMsg(q.drain())
	}
}
