// Package events provides the notification contract through which
// workspace components announce state changes to observers.
package events

import (
	"sync"
	"time"
)

// Kind names a state change.
type Kind string

const (
	CredentialsChanged Kind = "credentials.changed"
	ContainersLoaded   Kind = "containers.loaded"
	ContainersFailed   Kind = "containers.failed"
	MembersLoaded      Kind = "members.loaded"
	MembersFailed      Kind = "members.failed"
	MemberLoaded       Kind = "member.loaded"
	MemberWritten      Kind = "member.written"
	MemberWriteFailed  Kind = "member.write_failed"
	BufferOpened       Kind = "buffer.opened"
	BufferChanged      Kind = "buffer.changed"
	BufferStatus       Kind = "buffer.status"
	BufferClosed       Kind = "buffer.closed"
	JobSubmitted       Kind = "job.submitted"
	JobUpdated         Kind = "job.updated"
	JobOutput          Kind = "job.output"
	ThreadUpdated      Kind = "thread.updated"
	TerminalLine       Kind = "terminal.line"
)

// Event describes one state change. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind
	Container string
	Member    string
	BufferID  string
	JobID     string
	Mode      string
	Detail    string
	Timestamp time.Time
}

// Broadcaster fans events out to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	bufferSize  int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold
// bufferSize pending events.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() <-chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		if ch == sub {
			delete(b.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers. A nil broadcaster discards the event.
func (b *Broadcaster) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
