// Package types defines the small set of values shared between providers, the
// coach generator, the persistence layer, and the voice core.
//
// Each package owns its domain types; only data that crosses package
// boundaries in both directions lives here to avoid import cycles.
package types

import "time"

// Conversation roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a coaching conversation, as sent to the LLM and
// as stored by the persistence layer.
type Message struct {
	// ID is a stable identifier assigned by the store. Empty for messages that
	// were never persisted.
	ID string

	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string

	// Name is an optional participant name.
	Name string

	// CreatedAt is when the message was produced.
	CreatedAt time.Time
}

// UserMessage returns a user-role message with the given content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()}
}

// AssistantMessage returns an assistant-role message with the given content.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, CreatedAt: time.Now().UTC()}
}
