package memory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidPattern is returned when a regex predicate cannot be compiled
	// by the backing store.
	ErrInvalidPattern = errors.New("invalid regex pattern")
	// ErrRecordNotFound is returned by Tx operations addressing a missing id.
	ErrRecordNotFound = errors.New("quote record not found")
)

// Record is a single observed chat message. Stored records are remembered
// quotes; unstored records are transient cache entries subject to eviction.
type Record struct {
	ID           int64      `json:"id"`
	Text         string     `json:"text"`
	AuthorID     string     `json:"author_id"`
	Stored       bool       `json:"stored"`
	CreatedAt    time.Time  `json:"created_at"`
	LastQuotedAt *time.Time `json:"last_quoted_at,omitempty"`
}

// MatchKind tags the text predicate variant of a query.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchText
	MatchRegex
)

func (k MatchKind) String() string {
	switch k {
	case MatchText:
		return "text"
	case MatchRegex:
		return "regex"
	default:
		return "none"
	}
}

// Predicate is the text half of a query. Text-rank and regex matching are
// mutually exclusive; a predicate carries exactly one of them or neither.
type Predicate struct {
	Kind  MatchKind
	Value string
}

func AnyText() Predicate { return Predicate{Kind: MatchNone} }
func TextRank(text string) Predicate { return Predicate{Kind: MatchText, Value: text} }
func RegexMatch(pattern string) Predicate { return Predicate{Kind: MatchRegex, Value: pattern} }

// Query selects stored records for quoting.
type Query struct {
	Predicate Predicate
	// AuthorID restricts results to one author when non-empty.
	AuthorID string
	Limit    int
}

// Tx exposes the record primitives available inside one atomic unit.
type Tx interface {
	Insert(ctx context.Context, text, authorID string, createdAt time.Time) (int64, error)
	CountUnstored(ctx context.Context, authorID string) (int, error)
	// OldestUnstored returns the unstored record with the smallest created_at,
	// ties broken by lowest id.
	OldestUnstored(ctx context.Context, authorID string) (int64, bool, error)
	DeleteByID(ctx context.Context, id int64) error
	SetStored(ctx context.Context, id int64, stored bool) error
	// FindBestPromotionCandidate looks among the author's records whose stored
	// flag is the opposite of wantStored. With wantStored the newest match
	// wins; otherwise the most recently quoted, then newest.
	FindBestPromotionCandidate(ctx context.Context, authorID, queryText string, wantStored bool) (Record, bool, error)
}

// Store persists quote records.
type Store interface {
	// WithAuthorTx runs fn as one isolated atomic unit for authorID. Units for
	// the same author are serialized; units for different authors are not.
	// fn may be invoked more than once when the backend asks for a retry.
	WithAuthorTx(ctx context.Context, authorID string, fn func(tx Tx) error) error
	Search(ctx context.Context, q Query) ([]Record, error)
	TouchLastQuotedAt(ctx context.Context, ids []int64, at time.Time) error
	Mode() string
	Close() error
}
