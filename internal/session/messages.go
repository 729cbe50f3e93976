package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageKind tags a transient message.
type MessageKind string

const (
	MessageSuccess MessageKind = "success"
	MessageError   MessageKind = "error"
)

const (
	DefaultErrorMessageTTL   = 8 * time.Second
	DefaultSuccessMessageTTL = 4 * time.Second
)

// Message is a transient user-facing message.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

// MessageLog holds the transient messages of a session, most recent first.
// Every message is removed after the TTL of its kind and never comes back.
type MessageLog struct {
	mu       sync.Mutex
	messages []Message
	timers   map[string]*time.Timer
	ttl      map[MessageKind]time.Duration
	onShow   func(Message)
	onRemove func(id string)
	closed   bool
}

// NewMessageLog creates a MessageLog notifying onShow and onRemove as messages come and go.
// Zero TTLs fall back to the defaults.
func NewMessageLog(errorTTL, successTTL time.Duration, onShow func(Message), onRemove func(id string)) *MessageLog {
	if errorTTL <= 0 {
		errorTTL = DefaultErrorMessageTTL
	}
	if successTTL <= 0 {
		successTTL = DefaultSuccessMessageTTL
	}
	if onShow == nil {
		onShow = func(Message) {}
	}
	if onRemove == nil {
		onRemove = func(string) {}
	}
	return &MessageLog{
		timers: make(map[string]*time.Timer),
		ttl: map[MessageKind]time.Duration{
			MessageError:   errorTTL,
			MessageSuccess: successTTL,
		},
		onShow:   onShow,
		onRemove: onRemove,
	}
}

// Add prepends a message and schedules its removal.
func (l *MessageLog) Add(kind MessageKind, text string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if l.closed {
		return msg
	}

	l.messages = append([]Message{msg}, l.messages...)
	l.onShow(msg)

	ttl, ok := l.ttl[kind]
	if !ok {
		ttl = l.ttl[MessageError]
	}
	l.timers[msg.ID] = time.AfterFunc(ttl, func() { l.Remove(msg.ID) })

	return msg
}

// Remove removes a message, it reports whether the message was still present.
func (l *MessageLog) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}

	for i, msg := range l.messages {
		if msg.ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			l.onRemove(id)
			return true
		}
	}

	return false
}

// Messages returns a snapshot of the current messages, most recent first.
func (l *MessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Message(nil), l.messages...)
}

// Close stops every pending removal and drops the messages without notifying.
func (l *MessageLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.messages = nil
	l.closed = true
}

// Closed reports whether Close was called.
func (l *MessageLog) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
