package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, Options{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if s.Mode() != "memory" {
		t.Fatalf("Mode() = %q, want memory", s.Mode())
	}
	_ = s.Close()

	s, err = NewStore(ctx, Options{SQLitePath: filepath.Join(t.TempDir(), "q.db")})
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	if s.Mode() != "sqlite" {
		t.Fatalf("Mode() = %q, want sqlite", s.Mode())
	}
	_ = s.Close()
}

func TestNewStoreRejectsBadOptions(t *testing.T) {
	ctx := context.Background()
	cases := []Options{
		{Mode: "redis"},
		{TablePrefix: "x; DROP TABLE y; --"},
		{TextSearchConfig: "english'"},
	}
	for _, opts := range cases {
		if _, err := NewStore(ctx, opts); err == nil {
			t.Fatalf("NewStore(%+v) error = nil, want error", opts)
		}
	}
}
