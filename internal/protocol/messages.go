package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage MessageType = "chat_message"
	TypeBotReply    MessageType = "bot_reply"
	TypeSystemEvent MessageType = "system_event"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is one line of chat seen by the bot.
type ChatMessage struct {
	Type       MessageType `json:"type"`
	MessageID  string      `json:"message_id,omitempty"`
	AuthorID   string      `json:"author_id"`
	AuthorName string      `json:"author_name,omitempty"`
	Text       string      `json:"text"`
	TSMs       int64       `json:"ts_ms,omitempty"`
}

// SentAt returns the message timestamp, or now when the sender left it unset.
func (m ChatMessage) SentAt() time.Time {
	if m.TSMs <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(m.TSMs).UTC()
}

// Validate checks the fields every chat message must carry.
func (m ChatMessage) Validate() error {
	if strings.TrimSpace(m.AuthorID) == "" {
		return errors.New("invalid chat_message: author_id is required")
	}
	if strings.TrimSpace(m.Text) == "" {
		return errors.New("invalid chat_message: text is required")
	}
	return nil
}

type BotReply struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connection_id,omitempty"`
	InReplyTo    string      `json:"in_reply_to,omitempty"`
	Command      string      `json:"command"`
	Text         string      `json:"text"`
}

type SystemEvent struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connection_id"`
	Code         string      `json:"code"`
	Detail       string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connection_id,omitempty"`
	Code         string      `json:"code"`
	Source       string      `json:"source"`
	Retryable    bool        `json:"retryable"`
	Detail       string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
