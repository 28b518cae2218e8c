package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	baseTime  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testClock atomic.Int64
)

// nextTestTime hands out strictly increasing creation times.
func nextTestTime() time.Time {
	return baseTime.Add(time.Duration(testClock.Add(1)) * time.Second)
}

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("InsertCountOldestDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := insertAll(t, s, "U1", "first", "second", "third")

		err := s.WithAuthorTx(ctx, "U1", func(tx Tx) error {
			n, err := tx.CountUnstored(ctx, "U1")
			if err != nil {
				return err
			}
			if n != 3 {
				t.Fatalf("CountUnstored() = %d, want 3", n)
			}
			oldest, ok, err := tx.OldestUnstored(ctx, "U1")
			if err != nil {
				return err
			}
			if !ok || oldest != ids[0] {
				t.Fatalf("OldestUnstored() = %d,%v, want %d,true", oldest, ok, ids[0])
			}
			return tx.DeleteByID(ctx, oldest)
		})
		if err != nil {
			t.Fatalf("WithAuthorTx() error = %v", err)
		}

		next := insertAll(t, s, "U1", "fourth")
		if next[0] <= ids[2] {
			t.Fatalf("new id = %d, want greater than %d", next[0], ids[2])
		}
		if got := countUnstored(t, s, "U1"); got != 3 {
			t.Fatalf("CountUnstored() = %d, want 3", got)
		}
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		insertAll(t, s, "U1", "keep")

		boom := errors.New("boom")
		err := s.WithAuthorTx(ctx, "U1", func(tx Tx) error {
			if _, err := tx.Insert(ctx, "discard", "U1", nextTestTime()); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("WithAuthorTx() error = %v, want %v", err, boom)
		}
		if got := countUnstored(t, s, "U1"); got != 1 {
			t.Fatalf("CountUnstored() = %d, want 1 after rollback", got)
		}
	})

	t.Run("RememberCandidatePrefersNewestMatch", func(t *testing.T) {
		s := newStore(t)
		ids := insertAll(t, s, "U1", "the cat sat", "a dog barked", "the cat ran")
		insertAll(t, s, "U2", "the cat flew")

		got := findCandidate(t, s, "U1", "cat", true)
		if got == nil || got.ID != ids[2] {
			t.Fatalf("candidate = %+v, want id %d", got, ids[2])
		}
		got = findCandidate(t, s, "U1", "", true)
		if got == nil || got.ID != ids[2] {
			t.Fatalf("empty-query candidate = %+v, want newest id %d", got, ids[2])
		}
		if got := findCandidate(t, s, "U1", "zebra", true); got != nil {
			t.Fatalf("candidate = %+v, want none", got)
		}
		if got := findCandidate(t, s, "U1", "cat", false); got != nil {
			t.Fatalf("stored candidate = %+v, want none before promotion", got)
		}
	})

	t.Run("ForgetCandidatePrefersRecentlyQuoted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := insertAll(t, s, "U1", "cat one", "cat two", "cat three")
		for _, id := range ids {
			setStored(t, s, "U1", id, true)
		}
		if got := findCandidate(t, s, "U1", "cat", false); got == nil || got.ID != ids[2] {
			t.Fatalf("candidate = %+v, want newest id %d when none quoted", got, ids[2])
		}
		if err := s.TouchLastQuotedAt(ctx, []int64{ids[0]}, baseTime.Add(48*time.Hour)); err != nil {
			t.Fatalf("TouchLastQuotedAt() error = %v", err)
		}
		got := findCandidate(t, s, "U1", "cat", false)
		if got == nil || got.ID != ids[0] {
			t.Fatalf("candidate = %+v, want recently quoted id %d", got, ids[0])
		}
		if got.LastQuotedAt == nil || !got.LastQuotedAt.Equal(baseTime.Add(48*time.Hour)) {
			t.Fatalf("LastQuotedAt = %v, want %v", got.LastQuotedAt, baseTime.Add(48*time.Hour))
		}
	})

	t.Run("ConcurrentPromotionsPickDistinctRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		insertAll(t, s, "U1", "pizza a", "pizza b", "pizza c", "pizza d", "pizza e")

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			flipped = make(map[int64]int)
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var id int64
				err := s.WithAuthorTx(ctx, "U1", func(tx Tx) error {
					id = 0
					r, ok, err := tx.FindBestPromotionCandidate(ctx, "U1", "pizza", true)
					if err != nil || !ok {
						return err
					}
					if err := tx.SetStored(ctx, r.ID, true); err != nil {
						return err
					}
					id = r.ID
					return nil
				})
				if err != nil {
					t.Errorf("WithAuthorTx() error = %v", err)
					return
				}
				if id != 0 {
					mu.Lock()
					flipped[id]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(flipped) != 5 {
			t.Fatalf("flipped records = %d, want 5", len(flipped))
		}
		for id, n := range flipped {
			if n != 1 {
				t.Fatalf("record %d flipped %d times, want 1", id, n)
			}
		}
		if got := countUnstored(t, s, "U1"); got != 0 {
			t.Fatalf("CountUnstored() = %d, want 0", got)
		}
	})

	t.Run("SearchFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u1 := insertAll(t, s, "U1", "Pizza is great", "pizza again", "unrelated words")
		u2 := insertAll(t, s, "U2", "I hate pizza", "PIZZA time")
		setStored(t, s, "U1", u1[0], true)
		setStored(t, s, "U1", u1[2], true)
		setStored(t, s, "U2", u2[0], true)
		setStored(t, s, "U2", u2[1], true)

		all, err := s.Search(ctx, Query{Predicate: TextRank("pizza"), Limit: 10})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Search(pizza) len = %d, want 3 stored matches", len(all))
		}
		for _, r := range all {
			if !r.Stored {
				t.Fatalf("Search() returned unstored record %+v", r)
			}
		}

		scoped, err := s.Search(ctx, Query{Predicate: TextRank("pizza"), AuthorID: "U2", Limit: 10})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(scoped) != 2 {
			t.Fatalf("Search(pizza, U2) len = %d, want 2", len(scoped))
		}
		for _, r := range scoped {
			if r.AuthorID != "U2" {
				t.Fatalf("Search() author = %q, want U2", r.AuthorID)
			}
		}

		limited, err := s.Search(ctx, Query{Predicate: AnyText(), Limit: 2})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(limited) != 2 {
			t.Fatalf("Search(limit 2) len = %d, want 2", len(limited))
		}

		re, err := s.Search(ctx, Query{Predicate: RegexMatch("^pizza"), Limit: 10})
		if err != nil {
			t.Fatalf("Search(regex) error = %v", err)
		}
		if len(re) != 2 {
			t.Fatalf("Search(^pizza) len = %d, want 2 case-insensitive matches", len(re))
		}

		if _, err := s.Search(ctx, Query{Predicate: RegexMatch("(unclosed"), Limit: 10}); err == nil {
			t.Fatalf("Search(malformed regex) error = nil, want error")
		}
	})
}

func insertAll(t *testing.T, s Store, authorID string, texts ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(texts))
	err := s.WithAuthorTx(ctx, authorID, func(tx Tx) error {
		ids = ids[:0]
		for _, text := range texts {
			id, err := tx.Insert(ctx, text, authorID, nextTestTime())
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert %v: %v", texts, err)
	}
	return ids
}

func countUnstored(t *testing.T, s Store, authorID string) int {
	t.Helper()
	var n int
	err := s.WithAuthorTx(context.Background(), authorID, func(tx Tx) error {
		var err error
		n, err = tx.CountUnstored(context.Background(), authorID)
		return err
	})
	if err != nil {
		t.Fatalf("CountUnstored() error = %v", err)
	}
	return n
}

func setStored(t *testing.T, s Store, authorID string, id int64, stored bool) {
	t.Helper()
	err := s.WithAuthorTx(context.Background(), authorID, func(tx Tx) error {
		return tx.SetStored(context.Background(), id, stored)
	})
	if err != nil {
		t.Fatalf("SetStored(%d) error = %v", id, err)
	}
}

func findCandidate(t *testing.T, s Store, authorID, query string, wantStored bool) *Record {
	t.Helper()
	var out *Record
	err := s.WithAuthorTx(context.Background(), authorID, func(tx Tx) error {
		r, ok, err := tx.FindBestPromotionCandidate(context.Background(), authorID, query, wantStored)
		if err != nil {
			return err
		}
		if ok {
			out = &r
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FindBestPromotionCandidate() error = %v", err)
	}
	return out
}
