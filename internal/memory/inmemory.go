package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// InMemoryStore is a process-local record store for local/dev use and tests.
// Each author owns a shard; atomic units lock only their author's shard.
type InMemoryStore struct {
	mu     sync.RWMutex
	shards map[string]*authorShard
	nextID atomic.Int64
}

type authorShard struct {
	// unit serializes atomic units for the author.
	unit sync.Mutex
	// mu guards records for readers outside a unit.
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{shards: make(map[string]*authorShard)}
}

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) shard(authorID string) *authorShard {
	s.mu.RLock()
	sh, ok := s.shards[authorID]
	s.mu.RUnlock()
	if ok {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[authorID]; !ok {
		sh = &authorShard{}
		s.shards[authorID] = sh
	}
	return sh
}

func (s *InMemoryStore) snapshotShards() []*authorShard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authorShard, 0, len(s.shards))
	for _, sh := range s.shards {
		out = append(out, sh)
	}
	return out
}

// WithAuthorTx works on a private copy of the author's records and publishes
// it only when fn succeeds.
func (s *InMemoryStore) WithAuthorTx(ctx context.Context, authorID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(authorID)
	sh.unit.Lock()
	defer sh.unit.Unlock()

	sh.mu.RLock()
	working := cloneRecords(sh.records)
	sh.mu.RUnlock()

	tx := &memTx{store: s, authorID: authorID, records: working}
	if err := fn(tx); err != nil {
		return err
	}

	sh.mu.Lock()
	sh.records = tx.records
	sh.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Search(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return nil, nil
	}
	match, err := compileMatcher(q.Predicate)
	if err != nil {
		return nil, err
	}

	var shards []*authorShard
	if q.AuthorID != "" {
		s.mu.RLock()
		if sh, ok := s.shards[q.AuthorID]; ok {
			shards = append(shards, sh)
		}
		s.mu.RUnlock()
	} else {
		shards = s.snapshotShards()
	}

	var matches []Record
	for _, sh := range shards {
		sh.mu.RLock()
		for _, r := range sh.records {
			if r.Stored && match(r.Text) {
				matches = append(matches, copyRecord(r))
			}
		}
		sh.mu.RUnlock()
	}

	rand.Shuffle(len(matches), func(i, j int) {
		matches[i], matches[j] = matches[j], matches[i]
	})
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func (s *InMemoryStore) TouchLastQuotedAt(ctx context.Context, ids []int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	at = at.UTC()
	for _, sh := range s.snapshotShards() {
		// Taking the unit lock keeps an in-flight unit from publishing a copy
		// that predates this update.
		sh.unit.Lock()
		sh.mu.Lock()
		for i := range sh.records {
			if slices.Contains(ids, sh.records[i].ID) {
				t := at
				sh.records[i].LastQuotedAt = &t
			}
		}
		sh.mu.Unlock()
		sh.unit.Unlock()
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

type memTx struct {
	store    *InMemoryStore
	authorID string
	records  []Record
}

func (t *memTx) Insert(_ context.Context, text, authorID string, createdAt time.Time) (int64, error) {
	if authorID != t.authorID {
		return 0, fmt.Errorf("insert for author %q inside unit for %q", authorID, t.authorID)
	}
	id := t.store.nextID.Add(1)
	t.records = append(t.records, Record{
		ID:        id,
		Text:      text,
		AuthorID:  authorID,
		CreatedAt: createdAt.UTC(),
	})
	return id, nil
}

func (t *memTx) CountUnstored(_ context.Context, authorID string) (int, error) {
	n := 0
	for _, r := range t.records {
		if r.AuthorID == authorID && !r.Stored {
			n++
		}
	}
	return n, nil
}

func (t *memTx) OldestUnstored(_ context.Context, authorID string) (int64, bool, error) {
	var (
		best  Record
		found bool
	)
	for _, r := range t.records {
		if r.AuthorID != authorID || r.Stored {
			continue
		}
		if !found || r.CreatedAt.Before(best.CreatedAt) || (r.CreatedAt.Equal(best.CreatedAt) && r.ID < best.ID) {
			best, found = r, true
		}
	}
	return best.ID, found, nil
}

func (t *memTx) DeleteByID(_ context.Context, id int64) error {
	for i, r := range t.records {
		if r.ID == id {
			t.records = slices.Delete(t.records, i, i+1)
			return nil
		}
	}
	return ErrRecordNotFound
}

func (t *memTx) SetStored(_ context.Context, id int64, stored bool) error {
	for i := range t.records {
		if t.records[i].ID == id {
			t.records[i].Stored = stored
			return nil
		}
	}
	return ErrRecordNotFound
}

func (t *memTx) FindBestPromotionCandidate(_ context.Context, authorID, queryText string, wantStored bool) (Record, bool, error) {
	pred := AnyText()
	if strings.TrimSpace(queryText) != "" {
		pred = TextRank(queryText)
	}
	match, err := compileMatcher(pred)
	if err != nil {
		return Record{}, false, err
	}

	var (
		best  Record
		found bool
	)
	for _, r := range t.records {
		if r.AuthorID != authorID || r.Stored == wantStored || !match(r.Text) {
			continue
		}
		if !found || candidateBefore(r, best, wantStored) {
			best, found = r, true
		}
	}
	if !found {
		return Record{}, false, nil
	}
	return copyRecord(best), true, nil
}

// candidateBefore reports whether a ranks ahead of b in promotion order.
func candidateBefore(a, b Record, wantStored bool) bool {
	if !wantStored {
		switch {
		case a.LastQuotedAt != nil && b.LastQuotedAt == nil:
			return true
		case a.LastQuotedAt == nil && b.LastQuotedAt != nil:
			return false
		case a.LastQuotedAt != nil && b.LastQuotedAt != nil && !a.LastQuotedAt.Equal(*b.LastQuotedAt):
			return a.LastQuotedAt.After(*b.LastQuotedAt)
		}
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// compileMatcher turns a predicate into a text filter. Text-rank matching
// requires every normalized query term to appear as a word in the text.
func compileMatcher(p Predicate) (func(string) bool, error) {
	switch p.Kind {
	case MatchText:
		terms := SearchTerms(p.Value)
		if len(terms) == 0 {
			return func(string) bool { return false }, nil
		}
		return func(text string) bool {
			words := SearchTerms(text)
			for _, term := range terms {
				if !slices.Contains(words, term) {
					return false
				}
			}
			return true
		}, nil
	case MatchRegex:
		re, err := compileCaseInsensitive(p.Value)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	default:
		return func(string) bool { return true }, nil
	}
}

func cloneRecords(in []Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = copyRecord(r)
	}
	return out
}

func copyRecord(r Record) Record {
	if r.LastQuotedAt != nil {
		at := *r.LastQuotedAt
		r.LastQuotedAt = &at
	}
	return r
}
