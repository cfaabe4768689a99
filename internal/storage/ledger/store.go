// Package ledger provides durable storage for the single budget document.
// Every backend exposes optimistic concurrency through an opaque version
// token: a save only succeeds when the document has not changed since the
// token was read. Callers own the retry loop.
package ledger

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means no document has been persisted yet.
	ErrNotFound = errors.New("ledger document not found")
	// ErrConflict means the version token no longer matches the stored
	// document. The caller must re-fetch and recompute before retrying.
	ErrConflict = errors.New("ledger version conflict")
)

// Store is the compare-and-swap blob store holding the ledger document.
type Store interface {
	// Load returns the current document and its version token, or
	// ErrNotFound when nothing has been persisted yet.
	Load(ctx context.Context) (payload []byte, token string, err error)
	// Save writes the document. An empty token requires that no document
	// exists yet; otherwise the token must match the stored version.
	// Returns the token of the written document, or ErrConflict.
	Save(ctx context.Context, payload []byte, token string) (newToken string, err error)
}
