package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/brobbot/internal/protocol"
)

const maxQuoteSearchLimit = 100

type postMessageResponse struct {
	Handled bool   `json:"handled"`
	Command string `json:"command,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

// handlePostMessage feeds one chat line through the bot.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var msg protocol.ChatMessage
	if err := decodeJSON(r, &msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := msg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}
	msg.Type = protocol.TypeChatMessage

	s.authors.Upsert(msg.AuthorID, msg.AuthorName)
	reply, handled := s.dispatcher.Handle(r.Context(), msg)
	respondJSON(w, http.StatusOK, postMessageResponse{
		Handled: handled,
		Command: reply.Command,
		Reply:   reply.Text,
	})
}

type quoteView struct {
	ID           int64      `json:"id"`
	Text         string     `json:"text"`
	AuthorID     string     `json:"author_id"`
	AuthorName   string     `json:"author_name"`
	CreatedAt    time.Time  `json:"created_at"`
	LastQuotedAt *time.Time `json:"last_quoted_at,omitempty"`
}

// handleSearchQuotes samples remembered quotes without marking them quoted.
func (s *Server) handleSearchQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := s.cfg.QuoteMashLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxQuoteSearchLimit {
		limit = maxQuoteSearchLimit
	}

	records := s.searcher.Search(r.Context(), q.Get("author"), q.Get("q"), limit)
	out := make([]quoteView, 0, len(records))
	for _, rec := range records {
		out = append(out, quoteView{
			ID:           rec.ID,
			Text:         rec.Text,
			AuthorID:     rec.AuthorID,
			AuthorName:   s.authors.DisplayName(rec.AuthorID),
			CreatedAt:    rec.CreatedAt,
			LastQuotedAt: rec.LastQuotedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(out),
		"quotes": out,
	})
}
