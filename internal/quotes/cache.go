package quotes

import (
	"context"
	"strings"
	"time"

	"github.com/antoniostano/brobbot/internal/logger"
	"github.com/antoniostano/brobbot/internal/memory"
	"github.com/antoniostano/brobbot/internal/observability"
)

// Cache admits every observed message as an unstored record and keeps at most
// CacheSize unstored records per author, evicting the oldest first.
type Cache struct {
	store   memory.Store
	size    int
	log     *logger.Logger
	metrics *observability.Metrics
}

func NewCache(store memory.Store, cfg Config, log *logger.Logger, metrics *observability.Metrics) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{store: store, size: cfg.CacheSize, log: logger.OrNop(log), metrics: metrics}
}

// Observe caches text for authorID. Failures are logged and the message is
// dropped; nothing is returned to the caller.
func (c *Cache) Observe(ctx context.Context, authorID, text string, at time.Time) {
	if strings.TrimSpace(authorID) == "" || strings.TrimSpace(text) == "" {
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	start := time.Now()
	var evicted int
	err := c.store.WithAuthorTx(ctx, authorID, func(tx memory.Tx) error {
		evicted = 0
		n, err := tx.CountUnstored(ctx, authorID)
		if err != nil {
			return err
		}
		// Loop rather than evict once so a lowered cache size converges.
		for ; n >= c.size; n-- {
			id, ok, err := tx.OldestUnstored(ctx, authorID)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := tx.DeleteByID(ctx, id); err != nil {
				return err
			}
			evicted++
		}
		_, err = tx.Insert(ctx, text, authorID, at)
		return err
	})
	c.metrics.ObserveOp("observe", outcomeFor(err), time.Since(start))
	if err != nil {
		c.log.Warn("quote cache write failed", "op", "observe", "author_id", authorID, "error", err)
		return
	}
	for i := 0; i < evicted; i++ {
		c.metrics.IncEviction()
	}
	if evicted > 0 {
		c.log.Debug("evicted cached messages", "author_id", authorID, "count", evicted)
	}
}
