// Package seen defines the durable dedup ledger: revisions that were already
// admitted once are not re-admitted after a restart.
package seen

import (
	"context"
	"time"
)

// Store records which revisions have been admitted. Implementations must be
// safe for concurrent use.
type Store interface {
	// Seen reports whether a revision was previously marked.
	Seen(ctx context.Context, revisionID int64) (bool, error)

	// Mark records a revision. Marking twice is not an error.
	Mark(ctx context.Context, revisionID int64) error

	// Sweep deletes entries marked before the cutoff and returns how many
	// were removed. Keeps the ledger bounded; feed cursors make very old
	// revisions unreachable anyway.
	Sweep(ctx context.Context, before time.Time) (int64, error)
}
