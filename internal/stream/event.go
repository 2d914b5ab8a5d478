// Package stream decodes the chat service's newline-delimited event protocol.
// Each record is one line of the form "data: <json>" carrying a typed event.
package stream

// EventType tags a wire event.
type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Metadata carries the routing identifiers a turn may return. All fields are
// optional; which ones arrive depends on the lane the turn ran in.
type Metadata struct {
	MessageID string `json:"messageId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
}

// Empty reports whether no identifier is set.
func (m Metadata) Empty() bool {
	return m == Metadata{}
}

// Event is one decoded wire record. Fields are populated according to Type:
// Start may carry Metadata; Chunk carries Content; Complete carries
// FullResponse and Metadata; Error carries Err.
type Event struct {
	Type         EventType `json:"type"`
	Content      string    `json:"content,omitempty"`
	FullResponse string    `json:"fullResponse,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
	Err          string    `json:"error,omitempty"`

	// Accumulated is the concatenation of all chunk content seen so far,
	// including this event's. Set by the decoder on Chunk events only.
	Accumulated string `json:"-"`
}

// Result is the terminal value of a decoded stream.
type Result struct {
	// Text is the complete event's fullResponse when present, otherwise the
	// chunk accumulator.
	Text     string
	Metadata Metadata

	// Finalized is true only when a complete event was seen. A stream that
	// ends without one yields the accumulated text with Finalized=false;
	// callers must not reconcile identifiers in that case.
	Finalized bool
}
