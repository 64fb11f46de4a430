package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// writerLockKey serializes Update across every process sharing the database.
	writerLockKey   int64 = 0x6166666c6564677
	maxWriteRetries       = 5
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS affiliate_documents (
	kind       TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	owner      TEXT        NOT NULL DEFAULT '',
	ref        TEXT        NOT NULL DEFAULT '',
	body       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS affiliate_documents_owner_idx ON affiliate_documents (kind, owner);
CREATE INDEX IF NOT EXISTS affiliate_documents_ref_idx ON affiliate_documents (kind, ref);
`

// PostgresStore keeps documents in a single JSONB table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Migrate creates the documents table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, documentsSchema); err != nil {
		return fmt.Errorf("failed to migrate documents table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Name() string { return "postgres" }

// Update runs fn in a serializable transaction that holds the writer
// advisory lock. Serialization failures are retried.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxWriteRetries; attempt++ {
		err = s.updateOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.logger.Debug("retrying document transaction",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*10) * time.Millisecond):
		}
	}
	return fmt.Errorf("document transaction retries exhausted: %w", err)
}

func (s *PostgresStore) updateOnce(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		return fmt.Errorf("failed to acquire writer lock: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, kind Kind, id string) (Document, bool, error) {
	d := Document{Kind: kind, ID: id}
	var body []byte
	err := t.tx.QueryRow(ctx, `
		SELECT owner, ref, body FROM affiliate_documents WHERE kind = $1 AND id = $2
	`, string(kind), id).Scan(&d.Owner, &d.Ref, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("failed to get %s document: %w", kind, err)
	}
	d.Body = body
	return d, true, nil
}

func (t *pgTx) Put(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("storage: document without id")
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO affiliate_documents (kind, id, owner, ref, body, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, now())
		ON CONFLICT (kind, id) DO UPDATE SET
			owner = EXCLUDED.owner,
			ref = EXCLUDED.ref,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`, string(doc.Kind), doc.ID, doc.Owner, doc.Ref, string(doc.Body))
	if err != nil {
		return fmt.Errorf("failed to put %s document: %w", doc.Kind, err)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, kind Kind, id string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM affiliate_documents WHERE kind = $1 AND id = $2`, string(kind), id); err != nil {
		return fmt.Errorf("failed to delete %s document: %w", kind, err)
	}
	return nil
}

func (t *pgTx) List(ctx context.Context, kind Kind, filter Filter) ([]Document, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, owner, ref, body FROM affiliate_documents
		WHERE kind = $1 AND ($2 = '' OR owner = $2) AND ($3 = '' OR ref = $3)
		ORDER BY id COLLATE "C"
	`, string(kind), filter.Owner, filter.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s documents: %w", kind, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d := Document{Kind: kind}
		var body []byte
		if err := rows.Scan(&d.ID, &d.Owner, &d.Ref, &body); err != nil {
			return nil, err
		}
		d.Body = body
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
