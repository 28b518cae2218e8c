package quotes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/antoniostano/brobbot/internal/authors"
	"github.com/antoniostano/brobbot/internal/memory"
)

func TestClassify(t *testing.T) {
	dir := authors.NewDirectory()
	dir.Upsert("U1", "alice")
	s := NewSearcher(memory.NewInMemoryStore(), dir, Config{}, nil, nil)

	cases := []struct {
		token, text string
		want        Classification
	}{
		{"/foo/", "", Classification{Kind: KindRegex, Pattern: "foo"}},
		{"alice", "/^wh(y|at)/", Classification{Kind: KindRegex, AuthorID: "U1", Pattern: "^wh(y|at)"}},
		{"/foo/", "alice", Classification{Kind: KindRegex, AuthorID: "U1", Pattern: "foo"}},
		{"alice", "", Classification{Kind: KindAuthor, AuthorID: "U1"}},
		{"ALI", "pizza", Classification{Kind: KindAuthor, AuthorID: "U1"}},
		{"pizza", "party", Classification{Kind: KindText}},
		{"", "", Classification{Kind: KindText}},
		{"//", "", Classification{Kind: KindText}},
	}
	// Run twice in reverse to show the result does not depend on call order.
	for pass := 0; pass < 2; pass++ {
		for i := range cases {
			tc := cases[i]
			if pass == 1 {
				tc = cases[len(cases)-1-i]
			}
			if got := s.Classify(tc.token, tc.text); got != tc.want {
				t.Fatalf("Classify(%q, %q) = %+v, want %+v", tc.token, tc.text, got, tc.want)
			}
		}
	}
}

func TestBuildQuery(t *testing.T) {
	cases := []struct {
		name        string
		c           Classification
		token, text string
		want        memory.Query
	}{
		{
			name: "regex",
			c:    Classification{Kind: KindRegex, AuthorID: "U1", Pattern: "a+b"},
			text: "/a+b/",
			want: memory.Query{Predicate: memory.RegexMatch("a+b"), AuthorID: "U1", Limit: 10},
		},
		{
			name:  "author browse",
			c:     Classification{Kind: KindAuthor, AuthorID: "U1"},
			token: "alice",
			want:  memory.Query{Predicate: memory.AnyText(), AuthorID: "U1", Limit: 10},
		},
		{
			name:  "author with text",
			c:     Classification{Kind: KindAuthor, AuthorID: "U1"},
			token: "alice", text: " pizza ",
			want: memory.Query{Predicate: memory.TextRank("pizza"), AuthorID: "U1", Limit: 10},
		},
		{
			name:  "text folds token",
			c:     Classification{Kind: KindText},
			token: "pizza", text: "party",
			want: memory.Query{Predicate: memory.TextRank("pizza party"), Limit: 10},
		},
		{
			name: "everything",
			c:    Classification{Kind: KindText},
			want: memory.Query{Predicate: memory.AnyText(), Limit: 10},
		},
	}
	for _, tc := range cases {
		if got := BuildQuery(tc.c, tc.token, tc.text, 10); got != tc.want {
			t.Fatalf("%s: BuildQuery() = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestSearchRespectsLimitAndFilters(t *testing.T) {
	e, _, _ := newTestEngine(t, 50)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		e.Observe(ctx, "X", fmt.Sprintf("pizza %d", i), t0.Add(time.Duration(i)*time.Second))
		e.Observe(ctx, "Y", fmt.Sprintf("pizza y%d", i), t0.Add(time.Duration(i)*time.Second))
	}
	for i := 0; i < 12; i++ {
		if _, err := e.Remember(ctx, "xavier", "pizza"); err != nil {
			t.Fatalf("Remember(xavier) error = %v", err)
		}
		if i < 3 {
			if _, err := e.Remember(ctx, "yolanda", "pizza"); err != nil {
				t.Fatalf("Remember(yolanda) error = %v", err)
			}
		}
	}

	mash := e.Mash(ctx, "xavier", "")
	if len(mash) != 10 {
		t.Fatalf("Mash() len = %d, want 10", len(mash))
	}
	for _, r := range mash {
		if !r.Stored || r.AuthorID != "X" {
			t.Fatalf("Mash() returned %+v, want stored records from X", r)
		}
	}
	if got := e.Quote(ctx, "", "pizza"); len(got) != 1 {
		t.Fatalf("Quote() len = %d, want 1", len(got))
	}
	for _, limit := range []int{0, 1, 5, 100} {
		got := e.Search(ctx, "", "pizza", limit)
		if len(got) > limit {
			t.Fatalf("Search(limit=%d) len = %d", limit, len(got))
		}
		if limit == 100 && len(got) != 15 {
			t.Fatalf("Search(limit=100) len = %d, want 15 stored matches", len(got))
		}
	}
}

func TestSearchRegexIsCaseInsensitive(t *testing.T) {
	e, _, _ := newTestEngine(t, 10)
	ctx := context.Background()
	observeAll(e, "X", "WHY is this", "what now", "nothing here")
	for i := 0; i < 3; i++ {
		if _, err := e.Remember(ctx, "xavier", ""); err != nil {
			t.Fatalf("Remember() error = %v", err)
		}
	}
	got := e.Mash(ctx, "/^wh(y|at)/", "")
	if len(got) != 2 {
		t.Fatalf("Mash(regex) len = %d, want 2", len(got))
	}
}

func TestSearchMalformedRegexIsEmpty(t *testing.T) {
	e, _, _ := newTestEngine(t, 10)
	observeAll(e, "X", "anything")
	if _, err := e.Remember(context.Background(), "xavier", ""); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if got := e.Mash(context.Background(), "/(unclosed/", ""); len(got) != 0 {
		t.Fatalf("Mash(bad regex) = %+v, want empty", got)
	}
}

// patternStore stands in for a backend with its own regex dialect.
type patternStore struct {
	memory.Store
	got []memory.Query
}

func (p *patternStore) Search(_ context.Context, q memory.Query) ([]memory.Record, error) {
	p.got = append(p.got, q)
	return []memory.Record{{ID: 7, Text: "aa", AuthorID: "X", Stored: true}}, nil
}

func TestSearchLeavesPatternSyntaxToStore(t *testing.T) {
	dir := authors.NewDirectory()
	store := &patternStore{Store: memory.NewInMemoryStore()}
	e := New(store, dir, Config{}, nil, nil)

	// Backreferences and lookahead are valid in postgres but not in Go regexp.
	for _, pattern := range []string{`(a)\1`, `foo(?=bar)`} {
		got := e.Mash(context.Background(), "/"+pattern+"/", "")
		if len(got) != 1 {
			t.Fatalf("Mash(/%s/) len = %d, want the store's result", pattern, len(got))
		}
		last := store.got[len(store.got)-1]
		if last.Predicate.Kind != memory.MatchRegex || last.Predicate.Value != pattern {
			t.Fatalf("store query = %+v, want regex %q", last.Predicate, pattern)
		}
	}
}

type failingStore struct {
	memory.Store
	err error
}

func (f failingStore) Search(context.Context, memory.Query) ([]memory.Record, error) {
	return nil, f.err
}

func (f failingStore) TouchLastQuotedAt(context.Context, []int64, time.Time) error {
	return f.err
}

func (f failingStore) WithAuthorTx(context.Context, string, func(memory.Tx) error) error {
	return f.err
}

func TestStoreFailuresDegradeToEmpty(t *testing.T) {
	dir := authors.NewDirectory()
	dir.Upsert("X", "xavier")
	boom := errors.New("connection refused")
	e := New(failingStore{Store: memory.NewInMemoryStore(), err: boom}, dir, Config{}, nil, nil)
	ctx := context.Background()

	e.Observe(ctx, "X", "dropped", t0)
	if got := e.Quote(ctx, "xavier", ""); len(got) != 0 {
		t.Fatalf("Quote() = %+v, want empty on store failure", got)
	}
	if _, err := e.Remember(ctx, "xavier", "x"); !errors.Is(err, boom) {
		t.Fatalf("Remember() error = %v, want wrapped %v", err, boom)
	}
	e.MarkQuoted([]memory.Record{{ID: 1}})
	e.Wait()
}
