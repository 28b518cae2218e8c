package authors

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Resolver maps chat tokens to stable author ids and back.
type Resolver interface {
	ResolveByToken(token string) (authorID string, ok bool)
	DisplayName(authorID string) string
}

var regexToken = regexp.MustCompile(`^/.+/$`)

// Directory is an in-process author registry fed by the transport as it sees
// messages.
type Directory struct {
	mu    sync.RWMutex
	names map[string]string // author id -> display name
}

func NewDirectory() *Directory {
	return &Directory{names: make(map[string]string)}
}

// Upsert records the display name for an author. An empty name keeps any
// previously known name.
func (d *Directory) Upsert(authorID, displayName string) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return
	}
	displayName = strings.TrimSpace(displayName)
	d.mu.Lock()
	defer d.mu.Unlock()
	if displayName == "" {
		if _, ok := d.names[authorID]; ok {
			return
		}
	}
	d.names[authorID] = displayName
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}

// ResolveByToken matches token against known authors. An exact id wins;
// otherwise display names are matched case-insensitively by substring and
// the shortest name (then lowest id) is chosen.
func (d *Directory) ResolveByToken(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" || regexToken.MatchString(token) {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.names[token]; ok {
		return token, true
	}

	needle := strings.ToLower(token)
	type match struct {
		id   string
		name string
	}
	var matches []match
	for id, name := range d.names {
		if name != "" && strings.Contains(strings.ToLower(name), needle) {
			matches = append(matches, match{id: id, name: name})
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i].name) != len(matches[j].name) {
			return len(matches[i].name) < len(matches[j].name)
		}
		return matches[i].id < matches[j].id
	})
	return matches[0].id, true
}

// DisplayName returns the known name for authorID, falling back to the id.
func (d *Directory) DisplayName(authorID string) string {
	d.mu.RLock()
	name := d.names[authorID]
	d.mu.RUnlock()
	if name == "" {
		return authorID
	}
	return name
}
