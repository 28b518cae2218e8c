// Package quotes implements the quote memory engine: a bounded per-author
// cache of observed messages, promotion of cached messages into remembered
// quotes, and random sampling over remembered quotes.
package quotes

import (
	"errors"
	"time"

	"github.com/antoniostano/brobbot/internal/logger"
	"github.com/antoniostano/brobbot/internal/memory"
	"github.com/antoniostano/brobbot/internal/observability"
)

var (
	ErrAuthorNotFound = errors.New("author not found")
	ErrNoCandidate    = errors.New("no matching quote")
	ErrInvalidPattern = memory.ErrInvalidPattern
)

// AuthorResolver maps chat tokens to author ids and back.
type AuthorResolver interface {
	ResolveByToken(token string) (authorID string, ok bool)
	DisplayName(authorID string) string
}

type Config struct {
	// CacheSize caps unstored records per author.
	CacheSize    int
	QuoteLimit   int
	MashLimit    int
	TouchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 25
	}
	if c.QuoteLimit <= 0 {
		c.QuoteLimit = 1
	}
	if c.MashLimit <= 0 {
		c.MashLimit = 10
	}
	if c.TouchTimeout <= 0 {
		c.TouchTimeout = 5 * time.Second
	}
	return c
}

// Engine bundles the cache, promotion and search components over one store.
type Engine struct {
	*Cache
	*Promoter
	*Searcher
}

func New(store memory.Store, resolver AuthorResolver, cfg Config, log *logger.Logger, metrics *observability.Metrics) *Engine {
	cfg = cfg.withDefaults()
	log = logger.OrNop(log).With("component", "quotes")
	return &Engine{
		Cache:    NewCache(store, cfg, log, metrics),
		Promoter: NewPromoter(store, resolver, log, metrics),
		Searcher: NewSearcher(store, resolver, cfg, log, metrics),
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, ErrAuthorNotFound):
		return observability.OutcomeNotFound
	case errors.Is(err, ErrNoCandidate):
		return observability.OutcomeNoCandidate
	default:
		return observability.OutcomeError
	}
}
