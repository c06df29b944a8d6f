// Package dedup detects whether a page's extracted content changed since its
// last accepted crawl.
package dedup

import (
	"context"
	"fmt"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// Service compares content hashes against the last stored hash per URL.
// Hashes are scoped per job by default; with global scoping a re-crawl of the
// same site under a new job can still be recognized as unchanged.
type Service struct {
	store  crawler.HashStore
	hasher crawler.Hasher
	global bool
}

// New constructs a Service.
func New(store crawler.HashStore, hasher crawler.Hasher, global bool) *Service {
	return &Service{store: store, hasher: hasher, global: global}
}

func (s *Service) scope(jobID string) string {
	if s.global {
		return ""
	}
	return jobID
}

// ContentHash returns the stable digest of the markdown.
func (s *Service) ContentHash(markdown string) (string, error) {
	hash, err := s.hasher.Hash([]byte(markdown))
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hash, nil
}

// IsContentChanged reports whether the markdown differs from the last stored
// hash for the URL, returning the new hash alongside. Content with no prior
// hash counts as changed.
func (s *Service) IsContentChanged(ctx context.Context, jobID, url, markdown string) (bool, string, error) {
	hash, err := s.ContentHash(markdown)
	if err != nil {
		return false, "", err
	}
	prev, err := s.store.GetHash(ctx, s.scope(jobID), url)
	if err != nil {
		return false, "", fmt.Errorf("get stored hash: %w", err)
	}
	if prev == "" {
		return true, hash, nil
	}
	return prev != hash, hash, nil
}

// StoreHash persists the markdown's hash. Call it only after the content
// write succeeded, so a hash is never recorded for content that was not
// durably stored.
func (s *Service) StoreHash(ctx context.Context, jobID, url, markdown string) error {
	hash, err := s.ContentHash(markdown)
	if err != nil {
		return err
	}
	if err := s.store.PutHash(ctx, s.scope(jobID), url, hash); err != nil {
		return fmt.Errorf("put hash: %w", err)
	}
	return nil
}
