// ABOUTME: Message and Record types for conversation history
// ABOUTME: Defines roles, the append-only message log, and history trimming

package chat

import (
	"time"
)

// Role identifies the author kind of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleFunction  Role = "function"
	RoleData      Role = "data"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation log. Immutable once appended;
// ordering is append order and is semantically significant (it is the prompt
// history fed to agents).
type Message struct {
	ID      string
	Role    Role
	Content string
	Name    string // optional, e.g. tool name for tool-role messages
}

// Record is the authoritative, append-only log for one conversation.
type Record struct {
	ID        string
	UserID    string
	Title     string
	Path      string
	SharePath string
	CreatedAt time.Time
	Messages  []Message
}

// Clone returns a deep copy of the record so callers can stage changes
// without aliasing the original message slice.
func (r Record) Clone() Record {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	return out
}

// Trim bounds a history to the most recent max messages, dropping the oldest
// first. The returned slice is a copy; the input is never mutated.
func Trim(msgs []Message, max int) []Message {
	if max <= 0 {
		return []Message{}
	}
	start := 0
	if len(msgs) > max {
		start = len(msgs) - max
	}
	out := make([]Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}
