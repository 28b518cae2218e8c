package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestParseClientMessageChat(t *testing.T) {
	raw := []byte(`{"type":"chat_message","message_id":"m1","author_id":"U1","author_name":"alice","text":"hello there","ts_ms":1700000000000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	chat, ok := msg.(ChatMessage)
	if !ok {
		t.Fatalf("message type = %T, want ChatMessage", msg)
	}
	if chat.AuthorID != "U1" || chat.AuthorName != "alice" || chat.Text != "hello there" {
		t.Fatalf("unexpected chat message: %+v", chat)
	}
	if got, want := chat.SentAt(), time.UnixMilli(1700000000000).UTC(); !got.Equal(want) {
		t.Fatalf("SentAt() = %v, want %v", got, want)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidChat(t *testing.T) {
	cases := []string{
		`{"type":"chat_message","author_id":"","text":"hi"}`,
		`{"type":"chat_message","author_id":"U1","text":"   "}`,
		`{"type":"chat_message"`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) error = nil, want validation error", raw)
		}
	}
}

func TestChatMessageSentAtDefaultsToNow(t *testing.T) {
	before := time.Now().UTC()
	got := ChatMessage{AuthorID: "U1", Text: "x"}.SentAt()
	if got.Before(before) {
		t.Fatalf("SentAt() = %v, want >= %v", got, before)
	}
}

func BenchmarkParseClientMessageChat(b *testing.B) {
	raw := []byte(`{"type":"chat_message","author_id":"U1","author_name":"alice","text":"bb quote alice pizza","ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ChatMessage); !ok {
			b.Fatalf("message type = %T, want ChatMessage", msg)
		}
	}
}
