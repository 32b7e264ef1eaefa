// Package store provides durable persistence of transfer records.
//
// Persistence failures are deliberately soft: Save logs and swallows I/O
// errors so a storage hiccup never aborts an in-flight transfer, and a
// failed read degrades to ErrNotFound.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no transfer exists for the given id.
var ErrNotFound = errors.New("transfer not found")

// Store persists transfer records keyed by id.
type Store interface {
	// Save upserts the transfer and stamps UpdatedAt. The store keeps only
	// the most recently updated records up to its configured maximum.
	Save(t *Transfer) error
	Get(id string) (*Transfer, error)
	ListAll() ([]*Transfer, error)
	ListByStatus(status TransferStatus) ([]*Transfer, error)
	// ListActive returns transfers in pending, burned or attested state.
	ListActive() ([]*Transfer, error)
	Delete(id string) error
	// Prune removes terminal transfers whose UpdatedAt is older than maxAge.
	// Non-terminal transfers are never pruned.
	Prune(maxAge time.Duration) error
	Close() error
}
