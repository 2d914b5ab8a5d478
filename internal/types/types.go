// Package types provides shared type definitions used across chatline packages.
// This package exists to break import cycles between store, chat, and api.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"time"
)

// Role identifies which half of a turn a message represents.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// String returns the wire suffix for the role ("user" or "ai").
func (r Role) String() string {
	if r == RoleUser {
		return "user"
	}
	return "ai"
}

// Message is one half of a conversational turn. Two Message records exist per
// logical turn (user prompt + assistant response), adjacent in the transcript.
// At most one Message per conversation has IsStreaming=true at any time.
type Message struct {
	ID MessageID

	// Text is the message content. For assistant messages it grows in place
	// while the turn is streaming.
	Text string

	IsStreaming   bool
	IsRegenerated bool

	// ParentTurn is the durable turn id this message regenerates, set only
	// when IsRegenerated is true.
	ParentTurn string

	CreatedAt time.Time
	Model     string

	// Attachment display fields (set on user messages sent with a file).
	HasAttachment  bool
	AttachmentName string
	AttachmentSize int64
}

// IsUserTurn reports whether this is the user half of a turn.
func (m Message) IsUserTurn() bool {
	return m.ID.Role == RoleUser
}

// Thread is a durable, server-assigned conversation. The client only learns
// of a Thread after a turn completes or via explicit listing.
type Thread struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId,omitempty"`
}

// Project groups threads. The project -> threads mapping is populated lazily
// on first expansion.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ModelInfo describes a selectable LLM model.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
