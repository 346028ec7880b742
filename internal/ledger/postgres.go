package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// maxAppendRetries bounds the retry loop when the (resource_id, prev_hash)
// unique index rejects a concurrent append. With the advisory lock in place
// conflicts should not happen; the index is the backstop against a forked
// chain if they somehow do.
const maxAppendRetries = 3

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// PostgresStore persists the metadata ledger to PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	pool    *pgxpool.Pool
	builder *Builder
	logger  *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, builder *Builder, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, builder: builder, logger: logger}
}

// resourceLockKey maps a resource id onto a stable advisory lock key so
// appends to the same resource serialise while unrelated resources proceed
// concurrently.
func resourceLockKey(resourceID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(resourceID)) //nolint:errcheck
	return int64(h.Sum64())
}

// Append implements Store.
// It acquires a per-resource PostgreSQL advisory lock, reads the chain tip,
// builds the new entry, and inserts it — all within a single transaction.
func (s *PostgresStore) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	if req.ResourceID == "" {
		return nil, ErrInvalidResourceID
	}

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		entry, err := s.appendOnce(ctx, req)
		if errors.Is(err, ErrConflict) {
			s.logger.Warn("ledger append conflict, retrying",
				zap.String("resource_id", req.ResourceID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return entry, err
	}
	return nil, fmt.Errorf("append to %q: %w", req.ResourceID, ErrConflict)
}

func (s *PostgresStore) appendOnce(ctx context.Context, req AppendRequest) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends to this resource with a transaction-scoped
	// advisory lock; it is released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", resourceLockKey(req.ResourceID)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	// Read the current tip of this resource's chain.
	var prev *Entry
	tip, err := scanEntry(tx.QueryRow(ctx,
		`SELECT id, resource_id, metadata, created_by, created_at,
		        prev_hash, entry_hash, signature, anchor_tx
		 FROM metadata_ledger
		 WHERE resource_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, req.ResourceID,
	))
	switch {
	case err == nil:
		prev = tip
	case errors.Is(err, pgx.ErrNoRows):
		// First entry for this resource.
	default:
		return nil, fmt.Errorf("read chain tip: %w", err)
	}

	entry, err := s.builder.Build(req.ResourceID, req.Metadata, req.CreatedBy, prev)
	if err != nil {
		return nil, err
	}
	entry.AnchorTx = req.AnchorTx

	meta, err := CanonicalMetadata(entry.Metadata)
	if err != nil {
		return nil, err
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO metadata_ledger
		   (resource_id, metadata, created_by, created_at, prev_hash, entry_hash, signature, anchor_tx)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		entry.ResourceID, meta, entry.CreatedBy, entry.CreatedAt,
		entry.PrevHash, entry.EntryHash, entry.Signature, entry.AnchorTx,
	).Scan(&entry.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "entry_hash") {
				return nil, ErrDuplicateHash
			}
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger entry appended",
		zap.Int64("id", entry.ID),
		zap.String("resource_id", entry.ResourceID),
		zap.String("entry_hash", entry.EntryHash),
	)
	return entry, nil
}

// Chain implements Store.
func (s *PostgresStore) Chain(ctx context.Context, resourceID string) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, metadata, created_by, created_at,
		        prev_hash, entry_hash, signature, anchor_tx
		 FROM metadata_ledger
		 WHERE resource_id = $1
		 ORDER BY created_at ASC, id ASC`, resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Resources implements Store.
func (s *PostgresStore) Resources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT resource_id FROM metadata_ledger ORDER BY resource_id`)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ByHash implements Store.
func (s *PostgresStore) ByHash(ctx context.Context, entryHash string) (*Entry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT id, resource_id, metadata, created_by, created_at,
		        prev_hash, entry_hash, signature, anchor_tx
		 FROM metadata_ledger
		 WHERE entry_hash = $1`, entryHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry by hash: %w", err)
	}
	return entry, nil
}

// scanEntry reads one ledger row. The metadata column holds the canonical
// serialization; it is decoded with json.Number so re-canonicalizing the
// decoded document reproduces the stored text byte for byte.
func scanEntry(row pgx.Row) (*Entry, error) {
	entry := &Entry{}
	var meta string
	if err := row.Scan(
		&entry.ID, &entry.ResourceID, &meta, &entry.CreatedBy, &entry.CreatedAt,
		&entry.PrevHash, &entry.EntryHash, &entry.Signature, &entry.AnchorTx,
	); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(meta))
	dec.UseNumber()
	if err := dec.Decode(&entry.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for entry %d: %w", entry.ID, err)
	}
	return entry, nil
}
