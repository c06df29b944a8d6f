package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// HashStore persists content hashes in the content_hashes table, keyed by
// (scope, url).
type HashStore struct {
	db DB
}

// NewHashStore constructs a HashStore on the given pool.
func NewHashStore(db DB) *HashStore {
	return &HashStore{db: db}
}

// GetHash returns the stored hash or "" when absent.
func (s *HashStore) GetHash(ctx context.Context, scope, url string) (string, error) {
	var hash string
	err := s.db.QueryRow(ctx,
		`SELECT hash FROM content_hashes WHERE scope = $1 AND url = $2`,
		scope, url).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get hash: %w", err)
	}
	return hash, nil
}

// PutHash stores or replaces the hash.
func (s *HashStore) PutHash(ctx context.Context, scope, url, hash string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO content_hashes (scope, url, hash, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (scope, url) DO UPDATE SET hash = EXCLUDED.hash, updated_at = now()`,
		scope, url, hash)
	if err != nil {
		return fmt.Errorf("put hash: %w", err)
	}
	return nil
}
