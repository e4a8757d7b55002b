// Package channel defines the messages exchanged between chat transports and
// the turn router.
package channel

import (
	"context"
	"encoding/json"

	"github.com/bdobrica/openhabot/internal/openhabot/cards"
)

// InputHint tells a speech-capable client whether to open the microphone
// after playing a reply.
type InputHint string

const (
	AcceptingInput InputHint = "acceptingInput"
	IgnoringInput  InputHint = "ignoringInput"
	ExpectingInput InputHint = "expectingInput"
)

// Metadata describes where a message came from.
type Metadata struct {
	// Channel names the transport ("matrix", "webchat", "console").
	Channel string `json:"channel"`
	// ConversationID identifies the room or session. Dialog state is scoped
	// to it.
	ConversationID string `json:"conversation_id"`
	// UserID identifies the sender. Saved credentials are scoped to it.
	UserID string `json:"user_id"`
	// VoiceOnly is set by transports that know the device has no screen.
	VoiceOnly bool `json:"voice_only,omitempty"`
	// Raw is the transport's own description of the device, if any.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// HasScreen reports whether the sender can see cards and type answers. A
// device is voice-only when the transport says so or when its raw data
// carries audio session information.
func (m Metadata) HasScreen() bool {
	if m.VoiceOnly {
		return false
	}
	if len(m.Raw) == 0 {
		return true
	}
	var probe struct {
		CurrentAudioInfo json.RawMessage `json:"currentAudioInfo"`
	}
	if err := json.Unmarshal(m.Raw, &probe); err != nil {
		return true
	}
	return len(probe.CurrentAudioInfo) == 0 || string(probe.CurrentAudioInfo) == "null"
}

// IncomingMessage is one user utterance.
type IncomingMessage struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// OutgoingMessage is the single reply to an IncomingMessage.
type OutgoingMessage struct {
	Text      string      `json:"text"`
	Speech    string      `json:"speech,omitempty"`
	Card      *cards.Card `json:"card,omitempty"`
	InputHint InputHint   `json:"input_hint,omitempty"`
	// Choices lists suggested answers for a closed question.
	Choices []string `json:"choices,omitempty"`
	// Sensitive means the user's next message is a secret. Transports that
	// can, hide or remove it.
	Sensitive bool `json:"sensitive,omitempty"`
}

// Handler answers one turn. *bot.Router implements it.
type Handler interface {
	HandleTurn(ctx context.Context, msg IncomingMessage) OutgoingMessage
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg IncomingMessage) OutgoingMessage

func (f HandlerFunc) HandleTurn(ctx context.Context, msg IncomingMessage) OutgoingMessage {
	return f(ctx, msg)
}
