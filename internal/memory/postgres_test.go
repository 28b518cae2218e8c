package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// Postgres tests need a live database; set QUOTE_TEST_DATABASE_URL to run them.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := strings.TrimSpace(os.Getenv("QUOTE_TEST_DATABASE_URL"))
	if url == "" {
		t.Skip("QUOTE_TEST_DATABASE_URL not set")
	}
	prefix := fmt.Sprintf("test_%d_", time.Now().UnixNano())
	s, err := NewPostgresStore(context.Background(), url, Options{TablePrefix: prefix, SerializeRetries: 3})
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+s.table)
		_ = s.Close()
	})
	return s
}

func TestPostgresStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return newTestPostgresStore(t)
	})
}

func TestPostgresInvalidRegexMapsToErrInvalidPattern(t *testing.T) {
	s := newTestPostgresStore(t)
	_, err := s.Search(context.Background(), Query{Predicate: RegexMatch("(unclosed"), Limit: 1})
	if err == nil {
		t.Fatalf("Search() error = nil, want invalid pattern")
	}
}
