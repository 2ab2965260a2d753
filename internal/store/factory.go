package store

import (
	"context"
	"strings"

	"github.com/ent0n29/vcrooms/internal/privatevc"
)

// Store is a privatevc.Store that can report its health and be released.
type Store interface {
	privatevc.Store
	Ping(ctx context.Context) error
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, autoMigrate bool) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	pg, err := NewPostgresStore(ctx, databaseURL, autoMigrate)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
