package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/brobbot/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 10
)

// handleChatWS streams chat lines in and bot replies out over one socket.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log := s.log.With("connection_id", connID)
	log.Debug("chat websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Warn("chat websocket write failed", "error", err)
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.IncWSMessage("outbound", string(t))
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}
	send(protocol.SystemEvent{
		Type:         protocol.TypeSystemEvent,
		ConnectionID: connID,
		Code:         "connected",
	})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:         protocol.TypeErrorEvent,
				ConnectionID: connID,
				Code:         "invalid_client_message",
				Source:       "gateway",
				Retryable:    false,
				Detail:       err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.IncWSMessage("inbound", string(t))
		}

		msg, ok := parsed.(protocol.ChatMessage)
		if !ok {
			continue
		}
		s.authors.Upsert(msg.AuthorID, msg.AuthorName)
		reply, handled := s.dispatcher.Handle(ctx, msg)
		if !handled {
			continue
		}
		send(protocol.BotReply{
			Type:         protocol.TypeBotReply,
			ConnectionID: connID,
			InReplyTo:    msg.MessageID,
			Command:      reply.Command,
			Text:         reply.Text,
		})
	}

	cancel()
	<-writerDone
	log.Debug("chat websocket disconnected")
}
