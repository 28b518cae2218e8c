package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/brobbot/internal/commands"
	"github.com/antoniostano/brobbot/internal/config"
	"github.com/antoniostano/brobbot/internal/logger"
	"github.com/antoniostano/brobbot/internal/memory"
	"github.com/antoniostano/brobbot/internal/observability"
	"github.com/antoniostano/brobbot/internal/protocol"
)

type Dispatcher interface {
	Handle(ctx context.Context, msg protocol.ChatMessage) (commands.Reply, bool)
}

// Authors is the registry the transport feeds with the names it sees.
type Authors interface {
	Upsert(authorID, displayName string)
	DisplayName(authorID string) string
}

type QuoteSearcher interface {
	Search(ctx context.Context, authorToken, queryText string, limit int) []memory.Record
}

type Server struct {
	cfg        config.Config
	dispatcher Dispatcher
	authors    Authors
	searcher   QuoteSearcher
	storeMode  string
	metrics    *observability.Metrics
	log        *logger.Logger
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, dispatcher Dispatcher, authors Authors, searcher QuoteSearcher, storeMode string, metrics *observability.Metrics, log *logger.Logger) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		authors:    authors,
		searcher:   searcher,
		storeMode:  storeMode,
		metrics:    metrics,
		log:        logger.OrNop(log).With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/messages", s.handlePostMessage)
	r.Get("/v1/quotes", s.handleSearchQuotes)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"quote_store": s.storeMode,
		"bot_name":    s.cfg.BotName,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatMessage:
		return m.Type, true
	case protocol.BotReply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
