// Package document holds the working document shown in the editor pane.
package document

import (
	"context"
	"fmt"

	"scribe-backend/internal/kv"
)

const Key = "app_content"

type Store struct {
	kv kv.Store
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Get returns the current document, or "" when none has been written.
func (s *Store) Get(ctx context.Context) (string, error) {
	v, _, err := s.kv.Get(ctx, Key)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return v, nil
}

// Set replaces the document. An empty content removes it.
func (s *Store) Set(ctx context.Context, content string) error {
	if content == "" {
		return s.kv.Remove(ctx, Key)
	}
	if err := s.kv.Set(ctx, Key, content); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}
