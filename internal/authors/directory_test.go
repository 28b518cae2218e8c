package authors

import (
	"sync"
	"testing"
)

func TestDirectoryResolveByToken(t *testing.T) {
	d := NewDirectory()
	d.Upsert("U1", "Alice")
	d.Upsert("U2", "Alicia Keys")
	d.Upsert("U3", "bob")

	cases := []struct {
		token  string
		wantID string
		wantOK bool
	}{
		{"alice", "U1", true},
		{"ALI", "U1", true},
		{"keys", "U2", true},
		{"U3", "U3", true},
		{"bo", "U3", true},
		{"carol", "", false},
		{"", "", false},
		{"  ", "", false},
		{"/ali/", "", false},
	}
	for _, tc := range cases {
		id, ok := d.ResolveByToken(tc.token)
		if id != tc.wantID || ok != tc.wantOK {
			t.Fatalf("ResolveByToken(%q) = %q,%v, want %q,%v", tc.token, id, ok, tc.wantID, tc.wantOK)
		}
	}
}

func TestDirectoryTieBreaksByID(t *testing.T) {
	d := NewDirectory()
	d.Upsert("U9", "sam")
	d.Upsert("U2", "Sam")
	if id, _ := d.ResolveByToken("sam"); id != "U2" {
		t.Fatalf("ResolveByToken(sam) = %q, want U2", id)
	}
}

func TestDirectoryDisplayName(t *testing.T) {
	d := NewDirectory()
	d.Upsert("U1", "Alice")
	d.Upsert("U1", "")
	d.Upsert("U2", "")

	if got := d.DisplayName("U1"); got != "Alice" {
		t.Fatalf("DisplayName(U1) = %q, want Alice", got)
	}
	if got := d.DisplayName("U2"); got != "U2" {
		t.Fatalf("DisplayName(U2) = %q, want fallback to id", got)
	}
	if got := d.DisplayName("U404"); got != "U404" {
		t.Fatalf("DisplayName(U404) = %q, want fallback to id", got)
	}
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
}

func TestDirectoryConcurrentAccess(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Upsert("U1", "alice")
		}()
		go func() {
			defer wg.Done()
			d.ResolveByToken("ali")
		}()
	}
	wg.Wait()
	if id, ok := d.ResolveByToken("ali"); !ok || id != "U1" {
		t.Fatalf("ResolveByToken(ali) = %q,%v, want U1,true", id, ok)
	}
}
