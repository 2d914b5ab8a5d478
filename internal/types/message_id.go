package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageID identifies a message as a (turn, role) pair instead of the wire
// protocol's "<turnID>-user"/"<turnID>-ai" string convention. The suffix form
// is produced and parsed only at the API boundary.
type MessageID struct {
	// Turn is the turn identifier. Durable turns carry the server-assigned
	// UUID; turns that have not completed carry a client-side id prefixed
	// with "temp-" or "regen-".
	Turn string
	Role Role
}

const (
	tempTurnPrefix  = "temp-"
	regenTurnPrefix = "regen-"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// NewTempTurnID returns a fresh client-side turn id for an optimistic insert.
func NewTempTurnID() string {
	return tempTurnPrefix + uuid.NewString()
}

// NewRegenTurnID returns a fresh client-side turn id for a regeneration stub.
func NewRegenTurnID() string {
	return regenTurnPrefix + uuid.NewString()
}

// IsDurableTurn reports whether turn is a well-formed server-assigned id.
func IsDurableTurn(turn string) bool {
	return uuidPattern.MatchString(strings.ToLower(turn))
}

// Durable reports whether the id's turn half reached the server.
func (id MessageID) Durable() bool {
	return IsDurableTurn(id.Turn)
}

// String renders the wire form: "<turn>-user" or "<turn>-ai".
func (id MessageID) String() string {
	return id.Turn + "-" + id.Role.String()
}

// ParseMessageID parses the wire form back into a structured id. It accepts
// any turn string; use Durable to check whether the base is server-assigned.
func ParseMessageID(s string) (MessageID, error) {
	switch {
	case strings.HasSuffix(s, "-user"):
		return MessageID{Turn: strings.TrimSuffix(s, "-user"), Role: RoleUser}, nil
	case strings.HasSuffix(s, "-ai"):
		return MessageID{Turn: strings.TrimSuffix(s, "-ai"), Role: RoleAssistant}, nil
	}
	return MessageID{}, fmt.Errorf("message id %q has no role suffix", s)
}

// NewUserMessage builds the user half of a turn for optimistic insertion.
func NewUserMessage(turn, text, model string) Message {
	return Message{
		ID:        MessageID{Turn: turn, Role: RoleUser},
		Text:      text,
		CreatedAt: time.Now(),
		Model:     model,
	}
}

// NewStreamingPlaceholder builds the empty assistant half of a turn with
// IsStreaming set.
func NewStreamingPlaceholder(turn, model string) Message {
	return Message{
		ID:          MessageID{Turn: turn, Role: RoleAssistant},
		IsStreaming: true,
		CreatedAt:   time.Now(),
		Model:       model,
	}
}
