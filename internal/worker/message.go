package worker

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MessageType names a control message.
type MessageType string

const (
	// MessageUpdate installs or replaces the configuration override.
	MessageUpdate MessageType = "PORTAL_CONFIG_UPDATE"
	// MessageClear removes the configuration override.
	MessageClear MessageType = "PORTAL_CONFIG_CLEAR"
)

// Message is sent to the worker. Payload is required for MessageUpdate and
// must be a JSON object.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply acknowledges a Message. It is sent only after the cache write the
// message asked for has committed.
type Reply struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UpdateMessage builds a MessageUpdate carrying payload.
func UpdateMessage(payload []byte) Message {
	return Message{ID: uuid.NewString(), Type: MessageUpdate, Payload: payload}
}

// ClearMessage builds a MessageClear.
func ClearMessage() Message {
	return Message{ID: uuid.NewString(), Type: MessageClear}
}
