// Package conversation holds the message log shown to the user: an ordered,
// never-empty list that starts with the assistant's greeting.
//
// A Log is not safe for concurrent use; the orchestrator's event loop owns it.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// GreetingID is the fixed identifier of the greeting message.
const GreetingID = "welcome"

// DefaultGreeting is used when no greeting is configured.
const DefaultGreeting = "Hello! I'm Luna, your voice assistant. Click the microphone button to start speaking, or type your message below."

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry of the log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage returns a message with a fresh random ID stamped with now.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

// Log is the ordered conversation. Version increases on every Reset so that
// work started against an older conversation can be recognised as stale.
type Log struct {
	greeting string
	now      func() time.Time
	messages []Message
	version  uint64
}

// NewLog returns a log containing only the greeting. An empty greeting
// selects DefaultGreeting.
func NewLog(greeting string) *Log {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	l := &Log{greeting: greeting, now: time.Now}
	l.messages = []Message{l.greetingMessage()}
	return l
}

func (l *Log) greetingMessage() Message {
	return Message{
		ID:        GreetingID,
		Role:      RoleAssistant,
		Content:   l.greeting,
		CreatedAt: l.now(),
	}
}

// Append adds a new message authored by role and returns it.
func (l *Log) Append(role Role, content string) Message {
	m := NewMessage(role, content, l.now())
	l.messages = append(l.messages, m)
	return m
}

// AppendMessage adds a message that was created elsewhere, such as a
// generated reply that already carries its ID and timestamp.
func (l *Log) AppendMessage(m Message) {
	l.messages = append(l.messages, m)
}

// Reset discards everything but a fresh greeting and bumps the version.
func (l *Log) Reset() {
	l.version++
	l.messages = []Message{l.greetingMessage()}
}

// Version returns the current conversation version.
func (l *Log) Version() uint64 { return l.version }

// Len returns the number of messages, greeting included.
func (l *Log) Len() int { return len(l.messages) }

// Last returns the most recent message.
func (l *Log) Last() Message { return l.messages[len(l.messages)-1] }

// Messages returns a copy of the log.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}
