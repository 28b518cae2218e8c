package memory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
)

var registerRegexpOnce sync.Once

// registerRegexp installs the REGEXP operator; sqlite ships without one.
// "x REGEXP y" calls regexp(y, x).
func registerRegexp() {
	registerRegexpOnce.Do(func() {
		sqlite.MustRegisterDeterministicScalarFunction("regexp", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				pattern, _ := args[0].(string)
				var text string
				switch v := args[1].(type) {
				case string:
					text = v
				case []byte:
					text = string(v)
				case nil:
					return int64(0), nil
				}
				re, err := compileCaseInsensitive(pattern)
				if err != nil {
					return nil, err
				}
				if re.MatchString(text) {
					return int64(1), nil
				}
				return int64(0), nil
			})
	})
}

// SQLiteStore persists quote records in a local sqlite file with an FTS5
// index over the message text.
type SQLiteStore struct {
	db       *sql.DB
	table    string
	ftsTable string
	retries  int
}

func NewSQLiteStore(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	registerRegexp()

	// BEGIN IMMEDIATE takes the writer lock up front so that a count-then-insert
	// unit never runs on a stale read.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		table:    opts.tableName(),
		ftsTable: opts.tableName() + "_fts",
		retries:  opts.SerializeRetries,
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	t, f := s.table, s.ftsTable
	stmts := []string{
		// AUTOINCREMENT keeps ids from being reused after eviction.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			text_raw       TEXT    NOT NULL,
			author_id      TEXT    NOT NULL,
			created_at     INTEGER NOT NULL,
			last_quoted_at INTEGER NULL,
			is_stored      INTEGER NOT NULL DEFAULT 0
		);`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at);`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_last_quoted_at_idx ON %s (last_quoted_at);`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_is_stored_idx ON %s (is_stored);`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_author_stored_created_idx ON %s (author_id, is_stored, created_at);`, t, t),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
			text_raw,
			content='%s',
			content_rowid='id',
			tokenize='porter unicode61'
		);`, f, t),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_insert AFTER INSERT ON %s BEGIN
			INSERT INTO %s(rowid, text_raw) VALUES (new.id, new.text_raw);
		END;`, f, t, f),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_delete AFTER DELETE ON %s BEGIN
			INSERT INTO %s(%s, rowid, text_raw) VALUES ('delete', old.id, old.text_raw);
		END;`, f, t, f, f),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init quote schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

// WithAuthorTx runs fn under the database-wide writer lock; sqlite has no
// finer-grained write concurrency.
func (s *SQLiteStore) WithAuthorTx(ctx context.Context, _ string, fn func(tx Tx) error) error {
	return withRetry(ctx, s.retries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(&sqliteTx{tx: tx, store: s}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]Record, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	if q.Predicate.Kind == MatchRegex {
		if _, err := compileCaseInsensitive(q.Predicate.Value); err != nil {
			return nil, fmt.Errorf("search quotes: %w", err)
		}
	}
	b := newSQLiteBuilder(s.ftsTable)
	stmt := b.searchSQL(s.table, q)
	rows, err := s.db.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("search quotes: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, q.Limit)
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) TouchLastQuotedAt(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC().UnixNano())
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET last_quoted_at=? WHERE id IN (%s)`, s.table, strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("touch last_quoted_at: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteTx struct {
	tx    *sql.Tx
	store *SQLiteStore
}

func (t *sqliteTx) Insert(ctx context.Context, text, authorID string, createdAt time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (text_raw, author_id, created_at, is_stored) VALUES (?, ?, ?, 0)`, t.store.table),
		text, authorID, createdAt.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert quote: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert quote id: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) CountUnstored(ctx context.Context, authorID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE is_stored = 0 AND author_id = ?`, t.store.table),
		authorID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unstored: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) OldestUnstored(ctx context.Context, authorID string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE is_stored = 0 AND author_id = ?
		 ORDER BY created_at ASC, id ASC LIMIT 1`, t.store.table),
		authorID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("oldest unstored: %w", err)
	}
	return id, true, nil
}

func (t *sqliteTx) DeleteByID(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.store.table), id)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return requireAffected(res)
}

func (t *sqliteTx) SetStored(ctx context.Context, id int64, stored bool) error {
	v := 0
	if stored {
		v = 1
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET is_stored = ? WHERE id = ?`, t.store.table), v, id)
	if err != nil {
		return fmt.Errorf("set stored: %w", err)
	}
	return requireAffected(res)
}

func (t *sqliteTx) FindBestPromotionCandidate(ctx context.Context, authorID, queryText string, wantStored bool) (Record, bool, error) {
	b := newSQLiteBuilder(t.store.ftsTable)
	stmt := b.candidateSQL(t.store.table, authorID, queryText, wantStored)
	r, err := scanSQLiteRecord(t.tx.QueryRowContext(ctx, stmt, b.args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("find promotion candidate: %w", err)
	}
	return r, true, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (Record, error) {
	var (
		r            Record
		stored       int64
		createdAt    int64
		lastQuotedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Text, &r.AuthorID, &stored, &createdAt, &lastQuotedAt); err != nil {
		return Record{}, err
	}
	r.Stored = stored != 0
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	if lastQuotedAt.Valid {
		at := time.Unix(0, lastQuotedAt.Int64).UTC()
		r.LastQuotedAt = &at
	}
	return r, nil
}
