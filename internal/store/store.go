// Package store persists transfer aggregates. Both backends enforce the
// same contract: uniqueness on reference and idempotency_key, optimistic
// concurrency on version, and account/status scans for the read surface
// and recovery.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

var (
	ErrNotFound                = errors.New("transfer not found")
	ErrConcurrentModification  = errors.New("transfer modified concurrently")
	ErrDuplicateReference      = errors.New("transfer reference already exists")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
)

// Scope selects which side of a transfer an account query matches.
type Scope string

const (
	ScopeAll  Scope = "all"
	ScopeFrom Scope = "from"
	ScopeTo   Scope = "to"
)

type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Store is the durable mapping keyed by reference.
//
// Save inserts when the aggregate's Version is zero and updates otherwise.
// An update only succeeds when the stored version equals the aggregate's;
// on success the aggregate's Version is advanced in place. Inserts surface
// ErrDuplicateReference or ErrDuplicateIdempotencyKey on uniqueness
// violations, updates surface ErrConcurrentModification on version loss.
type Store interface {
	Save(ctx context.Context, t *transfer.Transfer) error
	FindByReference(ctx context.Context, reference string) (*transfer.Transfer, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*transfer.Transfer, error)
	FindByAccount(ctx context.Context, accountID string, scope Scope, page Page) ([]*transfer.Transfer, error)
	FindStuck(ctx context.Context, statuses []transfer.Status, olderThan time.Time) ([]*transfer.Transfer, error)
}
