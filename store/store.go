// Package store persists approved session projections so live connections
// can be rebuilt after a process restart.
package store

import (
	"context"

	"github.com/peerwallet-project/walletbridge/types"
)

// SessionStore is the durable session repository contract. Implementations
// are safe for concurrent independent calls.
type SessionStore interface {
	// LoadAll returns every persisted session.
	LoadAll(ctx context.Context) ([]types.PersistedSession, error)

	// Save writes one session projection, replacing any previous record
	// under the same key.
	Save(ctx context.Context, s types.PersistedSession) error

	// Remove deletes the projection for a key. Removing an absent key is
	// not an error.
	Remove(ctx context.Context, key types.SessionKey) error
}
