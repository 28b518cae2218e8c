package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/brobbot/internal/reliability"
)

// SQLSTATE invalid_regular_expression.
const pgInvalidRegex = "2201B"

// PostgresStore persists quote records in PostgreSQL, using a generated
// tsvector column for full-text matching.
type PostgresStore struct {
	pool     *pgxpool.Pool
	name     string
	table    string
	tsConfig string
	retries  int
}

func NewPostgresStore(ctx context.Context, databaseURL string, opts Options) (*PostgresStore, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresStore{
		pool:     pool,
		name:     opts.tableName(),
		table:    pgx.Identifier{opts.tableName()}.Sanitize(),
		tsConfig: opts.TextSearchConfig,
		retries:  opts.SerializeRetries,
	}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	idx := func(suffix string) string {
		return pgx.Identifier{s.name + "_" + suffix}.Sanitize()
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			text_raw TEXT NOT NULL,
			text_searchable tsvector GENERATED ALWAYS AS (to_tsvector('%s'::regconfig, coalesce(text_raw, ''))) STORED,
			author_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_quoted_at TIMESTAMPTZ NULL,
			is_stored BOOLEAN NOT NULL DEFAULT FALSE
		);`, s.table, s.tsConfig),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (text_searchable);`, idx("text_searchable_idx"), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at);`, idx("created_at_idx"), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (last_quoted_at);`, idx("last_quoted_at_idx"), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (is_stored);`, idx("is_stored_idx"), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (author_id, is_stored, created_at);`, idx("author_stored_created_idx"), s.table),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init quote schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

// WithAuthorTx serializes units per author with a transaction-scoped advisory
// lock keyed on the author id. Every statement after the lock sees the
// committed work of the previous holder.
func (s *PostgresStore) WithAuthorTx(ctx context.Context, authorID string, fn func(tx Tx) error) error {
	return withRetry(ctx, s.retries, func() error {
		return s.runAuthorTx(ctx, authorID, fn)
	})
}

func (s *PostgresStore) runAuthorTx(ctx context.Context, authorID string, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.name+":"+authorID); err != nil {
		return fmt.Errorf("lock author: %w", err)
	}
	if err := fn(&pgTx{tx: tx, store: s}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, q Query) ([]Record, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	b := newPostgresBuilder(s.tsConfig)
	stmt := b.searchSQL(s.table, q)
	rows, err := s.pool.Query(ctx, stmt, b.args...)
	if err != nil {
		return nil, mapPgError("search quotes", err)
	}
	defer rows.Close()

	out := make([]Record, 0, q.Limit)
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, mapPgError("scan quote row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("iterate quote rows", err)
	}
	return out, nil
}

func (s *PostgresStore) TouchLastQuotedAt(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET last_quoted_at=$1 WHERE id = ANY($2)`, s.table),
		at.UTC(), ids,
	)
	if err != nil {
		return fmt.Errorf("touch last_quoted_at: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx    pgx.Tx
	store *PostgresStore
}

func (t *pgTx) Insert(ctx context.Context, text, authorID string, createdAt time.Time) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (text_raw, author_id, created_at, is_stored)
		 VALUES ($1, $2, $3, FALSE) RETURNING id`, t.store.table),
		text, authorID, createdAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quote: %w", err)
	}
	return id, nil
}

func (t *pgTx) CountUnstored(ctx context.Context, authorID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE is_stored = FALSE AND author_id=$1`, t.store.table),
		authorID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unstored: %w", err)
	}
	return n, nil
}

func (t *pgTx) OldestUnstored(ctx context.Context, authorID string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE is_stored = FALSE AND author_id=$1
		 ORDER BY created_at ASC, id ASC LIMIT 1`, t.store.table),
		authorID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("oldest unstored: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) DeleteByID(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, t.store.table), id)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (t *pgTx) SetStored(ctx context.Context, id int64, stored bool) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET is_stored=$1 WHERE id=$2`, t.store.table), stored, id)
	if err != nil {
		return fmt.Errorf("set stored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (t *pgTx) FindBestPromotionCandidate(ctx context.Context, authorID, queryText string, wantStored bool) (Record, bool, error) {
	b := newPostgresBuilder(t.store.tsConfig)
	stmt := b.candidateSQL(t.store.table, authorID, queryText, wantStored)
	r, err := scanPgRecord(t.tx.QueryRow(ctx, stmt, b.args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, mapPgError("find promotion candidate", err)
	}
	return r, true, nil
}

func scanPgRecord(row pgx.Row) (Record, error) {
	var (
		r            Record
		lastQuotedAt *time.Time
	)
	if err := row.Scan(&r.ID, &r.Text, &r.AuthorID, &r.Stored, &r.CreatedAt, &lastQuotedAt); err != nil {
		return Record{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if lastQuotedAt != nil {
		at := lastQuotedAt.UTC()
		r.LastQuotedAt = &at
	}
	return r, nil
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInvalidRegex {
		return fmt.Errorf("%s: %w: %s", op, ErrInvalidPattern, pgErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// withRetry re-runs a whole atomic unit when the backend reports a transient
// conflict.
func withRetry(ctx context.Context, retries int, run func() error) error {
	for attempt := 0; ; attempt++ {
		err := run()
		if err == nil || attempt >= retries || !reliability.IsRetryableStoreError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, 10*time.Millisecond, 250*time.Millisecond)):
		}
	}
}
