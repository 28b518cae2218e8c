package quotes

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/brobbot/internal/logger"
	"github.com/antoniostano/brobbot/internal/memory"
	"github.com/antoniostano/brobbot/internal/observability"
	"github.com/antoniostano/brobbot/internal/redact"
)

// Kind is the classification of a search request.
type Kind int

const (
	KindText Kind = iota
	KindAuthor
	KindRegex
)

func (k Kind) String() string {
	switch k {
	case KindAuthor:
		return "AUTHOR"
	case KindRegex:
		return "REGEX"
	default:
		return "TEXT"
	}
}

// Classification is the outcome of Classify. AuthorID is set whenever a
// token resolved to a known author.
type Classification struct {
	Kind     Kind
	AuthorID string
	Pattern  string
}

var regexForm = regexp.MustCompile(`^/(.+)/$`)

// IsRegexForm reports whether s is wrapped in /.../ delimiters.
func IsRegexForm(s string) bool {
	return regexForm.MatchString(s)
}

// Searcher samples remembered quotes.
type Searcher struct {
	store    memory.Store
	resolver AuthorResolver
	cfg      Config
	log      *logger.Logger
	metrics  *observability.Metrics

	now     func() time.Time
	pending sync.WaitGroup
}

func NewSearcher(store memory.Store, resolver AuthorResolver, cfg Config, log *logger.Logger, metrics *observability.Metrics) *Searcher {
	return &Searcher{
		store:    store,
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		log:      logger.OrNop(log),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Classify decides how a search request is matched. A /regex/ on either side
// wins, scoped to the author named by the other side if it resolves. Next a
// resolvable author token scopes the search to that author. Anything else
// is folded into one full-text query.
func (s *Searcher) Classify(authorToken, queryText string) Classification {
	authorToken = strings.TrimSpace(authorToken)
	queryText = strings.TrimSpace(queryText)

	if m := regexForm.FindStringSubmatch(authorToken); m != nil {
		c := Classification{Kind: KindRegex, Pattern: m[1]}
		c.AuthorID, _ = s.resolver.ResolveByToken(queryText)
		return c
	}
	if m := regexForm.FindStringSubmatch(queryText); m != nil {
		c := Classification{Kind: KindRegex, Pattern: m[1]}
		c.AuthorID, _ = s.resolver.ResolveByToken(authorToken)
		return c
	}
	if id, ok := s.resolver.ResolveByToken(authorToken); ok {
		return Classification{Kind: KindAuthor, AuthorID: id}
	}
	return Classification{Kind: KindText}
}

// BuildSearchString returns the text the predicate is built from.
func BuildSearchString(c Classification, authorToken, queryText string) string {
	switch c.Kind {
	case KindRegex:
		return c.Pattern
	case KindAuthor:
		return strings.TrimSpace(queryText)
	default:
		return strings.TrimSpace(strings.TrimSpace(authorToken) + " " + strings.TrimSpace(queryText))
	}
}

// BuildQuery turns a classification into a store query.
func BuildQuery(c Classification, authorToken, queryText string, limit int) memory.Query {
	q := memory.Query{AuthorID: c.AuthorID, Limit: limit, Predicate: memory.AnyText()}
	text := BuildSearchString(c, authorToken, queryText)
	switch {
	case c.Kind == KindRegex:
		q.Predicate = memory.RegexMatch(text)
	case text != "":
		q.Predicate = memory.TextRank(text)
	}
	return q
}

// Search returns up to limit random remembered quotes. Errors are logged and
// reported as an empty result.
func (s *Searcher) Search(ctx context.Context, authorToken, queryText string, limit int) []memory.Record {
	return s.search(ctx, "search", authorToken, queryText, limit)
}

// Quote returns at most QuoteLimit random matching quotes.
func (s *Searcher) Quote(ctx context.Context, authorToken, queryText string) []memory.Record {
	return s.search(ctx, "quote", authorToken, queryText, s.cfg.QuoteLimit)
}

// Mash returns at most MashLimit random matching quotes.
func (s *Searcher) Mash(ctx context.Context, authorToken, queryText string) []memory.Record {
	return s.search(ctx, "mash", authorToken, queryText, s.cfg.MashLimit)
}

func (s *Searcher) search(ctx context.Context, op, authorToken, queryText string, limit int) []memory.Record {
	if limit <= 0 {
		return nil
	}
	start := time.Now()
	c := s.Classify(authorToken, queryText)
	q := BuildQuery(c, authorToken, queryText, limit)

	// Pattern syntax is the backend's own; each store reports ErrInvalidPattern.
	records, err := s.store.Search(ctx, q)
	if err != nil {
		s.metrics.ObserveOp(op, observability.OutcomeError, time.Since(start))
		if errors.Is(err, memory.ErrInvalidPattern) {
			s.log.Warn("invalid quote pattern", "op", op, "pattern", redact.ForLog(q.Predicate.Value), "error", err)
			return nil
		}
		s.log.Error("quote search failed", "op", op, "kind", c.Kind.String(), "author_id", c.AuthorID, "query", redact.ForLog(q.Predicate.Value), "error", err)
		return nil
	}
	if len(records) > limit {
		records = records[:limit]
	}
	outcome := observability.OutcomeOK
	if len(records) == 0 {
		outcome = observability.OutcomeEmpty
	}
	s.metrics.ObserveOp(op, outcome, time.Since(start))
	return records
}

// MarkQuoted stamps last_quoted_at on records in the background. The caller
// never waits for it and failures are only logged.
func (s *Searcher) MarkQuoted(records []memory.Record) {
	if len(records) == 0 {
		return
	}
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	at := s.now()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TouchTimeout)
		defer cancel()

		start := time.Now()
		err := s.store.TouchLastQuotedAt(ctx, ids, at)
		s.metrics.ObserveOp("touch", outcomeFor(err), time.Since(start))
		if err != nil {
			s.log.Warn("touch last_quoted_at failed", "ids", ids, "error", err)
		}
	}()
}

// Wait blocks until background MarkQuoted updates have finished.
func (s *Searcher) Wait() {
	s.pending.Wait()
}
