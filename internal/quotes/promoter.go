package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/brobbot/internal/logger"
	"github.com/antoniostano/brobbot/internal/memory"
	"github.com/antoniostano/brobbot/internal/observability"
	"github.com/antoniostano/brobbot/internal/redact"
)

// Promoter flips records between the cache and the remembered set.
type Promoter struct {
	store    memory.Store
	resolver AuthorResolver
	log      *logger.Logger
	metrics  *observability.Metrics
}

func NewPromoter(store memory.Store, resolver AuthorResolver, log *logger.Logger, metrics *observability.Metrics) *Promoter {
	return &Promoter{store: store, resolver: resolver, log: logger.OrNop(log), metrics: metrics}
}

// Remember stores the most recent cached message from the author matching
// queryText. An empty queryText picks the most recent cached message.
func (p *Promoter) Remember(ctx context.Context, authorToken, queryText string) (memory.Record, error) {
	return p.flip(ctx, "remember", authorToken, queryText, true)
}

// Forget returns the author's most recently quoted matching quote to the
// cache, where it is subject to eviction again.
func (p *Promoter) Forget(ctx context.Context, authorToken, queryText string) (memory.Record, error) {
	return p.flip(ctx, "forget", authorToken, queryText, false)
}

func (p *Promoter) flip(ctx context.Context, op, authorToken, queryText string, wantStored bool) (memory.Record, error) {
	start := time.Now()
	authorID, ok := p.resolver.ResolveByToken(authorToken)
	if !ok {
		p.metrics.ObserveOp(op, observability.OutcomeNotFound, time.Since(start))
		p.log.Info("author not found", "op", op, "author_token", redact.ForLog(authorToken))
		return memory.Record{}, ErrAuthorNotFound
	}

	var out memory.Record
	err := p.store.WithAuthorTx(ctx, authorID, func(tx memory.Tx) error {
		r, found, err := tx.FindBestPromotionCandidate(ctx, authorID, queryText, wantStored)
		if err != nil {
			return err
		}
		if !found {
			return ErrNoCandidate
		}
		if err := tx.SetStored(ctx, r.ID, wantStored); err != nil {
			return err
		}
		r.Stored = wantStored
		out = r
		return nil
	})
	p.metrics.ObserveOp(op, outcomeFor(err), time.Since(start))
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, ErrNoCandidate):
		p.log.Info("no promotion candidate", "op", op, "author_id", authorID, "query", redact.ForLog(queryText))
		return memory.Record{}, ErrNoCandidate
	default:
		p.log.Error("promotion failed", "op", op, "author_id", authorID, "query", redact.ForLog(queryText), "error", err)
		return memory.Record{}, fmt.Errorf("%s: %w", op, err)
	}
}
