package memory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

const recordColumns = `id, text_raw, author_id, is_stored, created_at, last_quoted_at`

var regexpCache sync.Map // pattern -> *regexp.Regexp

// compileCaseInsensitive compiles pattern for case-insensitive matching.
func compileCaseInsensitive(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexpCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	regexpCache.Store(pattern, re)
	return re, nil
}

// SearchTerms normalizes free text into full-text terms. Anything that is not
// a letter, digit, underscore or whitespace is dropped.
func SearchTerms(text string) []string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// TSQuery renders terms as a postgres to_tsquery expression requiring all terms.
func TSQuery(terms []string) string {
	return strings.Join(terms, " & ")
}

// FTS5Query renders terms as an sqlite FTS5 MATCH expression requiring all terms.
func FTS5Query(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " AND ")
}

// queryBuilder assembles a WHERE clause from structured predicates. User
// input only ever reaches the statement through bound arguments.
type queryBuilder struct {
	dialect  dialect
	tsConfig string
	ftsTable string

	clauses []string
	args    []any
}

func newPostgresBuilder(tsConfig string) *queryBuilder {
	return &queryBuilder{dialect: dialectPostgres, tsConfig: tsConfig}
}

func newSQLiteBuilder(ftsTable string) *queryBuilder {
	return &queryBuilder{dialect: dialectSQLite, ftsTable: ftsTable}
}

func (b *queryBuilder) bind(v any) string {
	b.args = append(b.args, v)
	if b.dialect == dialectPostgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

func (b *queryBuilder) where(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *queryBuilder) stored(v bool) {
	if b.dialect == dialectSQLite {
		// sqlite keeps booleans as integers.
		if v {
			b.where("is_stored = " + b.bind(1))
		} else {
			b.where("is_stored = " + b.bind(0))
		}
		return
	}
	b.where("is_stored = " + b.bind(v))
}

func (b *queryBuilder) author(authorID string) {
	if authorID == "" {
		return
	}
	b.where("author_id = " + b.bind(authorID))
}

func (b *queryBuilder) predicate(p Predicate) {
	switch p.Kind {
	case MatchText:
		terms := SearchTerms(p.Value)
		if len(terms) == 0 {
			// Text with no searchable terms matches nothing.
			b.where("1 = 0")
			return
		}
		if b.dialect == dialectPostgres {
			cfg := b.bind(b.tsConfig)
			b.where(fmt.Sprintf("text_searchable @@ to_tsquery(%s::regconfig, %s)", cfg, b.bind(TSQuery(terms))))
			return
		}
		b.where(fmt.Sprintf("id IN (SELECT rowid FROM %s WHERE %s MATCH %s)", b.ftsTable, b.ftsTable, b.bind(FTS5Query(terms))))
	case MatchRegex:
		if b.dialect == dialectPostgres {
			b.where("text_raw ~* " + b.bind(p.Value))
			return
		}
		b.where("text_raw REGEXP " + b.bind(p.Value))
	}
}

func (b *queryBuilder) whereSQL() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// searchSQL builds the sampling query over stored records.
func (b *queryBuilder) searchSQL(table string, q Query) string {
	b.stored(true)
	b.author(q.AuthorID)
	b.predicate(q.Predicate)
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY random() LIMIT %s",
		recordColumns, table, b.whereSQL(), b.bind(q.Limit))
}

// candidateSQL builds the promotion candidate lookup. An empty query text
// applies no text predicate at all.
func (b *queryBuilder) candidateSQL(table, authorID, queryText string, wantStored bool) string {
	b.stored(!wantStored)
	b.author(authorID)
	if strings.TrimSpace(queryText) != "" {
		b.predicate(TextRank(queryText))
	}
	order := "created_at DESC, id DESC"
	if !wantStored {
		order = "last_quoted_at DESC NULLS LAST, created_at DESC, id DESC"
	}
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT 1",
		recordColumns, table, b.whereSQL(), order)
}
