package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

const (
	tableTransfers      = "transfers"
	indexReference      = "id"
	indexIdempotencyKey = "idempotency_key"
	indexFromAccount    = "from_account"
	indexToAccount      = "to_account"
	indexStatus         = "status"
)

func memSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTransfers: {
				Name: tableTransfers,
				Indexes: map[string]*memdb.IndexSchema{
					indexReference: {
						Name:    indexReference,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Reference"},
					},
					indexIdempotencyKey: {
						Name:         indexIdempotencyKey,
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "IdempotencyKey"},
					},
					indexFromAccount: {
						Name:    indexFromAccount,
						Indexer: &memdb.StringFieldIndex{Field: "FromAccount"},
					},
					indexToAccount: {
						Name:    indexToAccount,
						Indexer: &memdb.StringFieldIndex{Field: "ToAccount"},
					},
					indexStatus: {
						Name:    indexStatus,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
		},
	}
}

// MemStore keeps aggregates in a go-memdb instance. It backs tests and
// single-node deployments without Postgres; memdb's single-writer
// transactions give Save the atomic check-then-insert it needs.
type MemStore struct {
	db *memdb.MemDB
}

func NewMemStore() (*MemStore, error) {
	db, err := memdb.NewMemDB(memSchema())
	if err != nil {
		return nil, fmt.Errorf("build memdb schema: %w", err)
	}
	return &MemStore{db: db}, nil
}

func (s *MemStore) Save(_ context.Context, t *transfer.Transfer) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTransfers, indexReference, t.Reference)
	if err != nil {
		return fmt.Errorf("lookup reference: %w", err)
	}
	existing, _ := raw.(*transfer.Transfer)

	if t.Version == 0 {
		if existing != nil {
			return ErrDuplicateReference
		}
		if t.IdempotencyKey != "" {
			dup, err := txn.First(tableTransfers, indexIdempotencyKey, t.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
			if dup != nil {
				return ErrDuplicateIdempotencyKey
			}
		}
	} else {
		if existing == nil {
			return ErrNotFound
		}
		if existing.Version != t.Version {
			return ErrConcurrentModification
		}
	}

	next := t.Clone()
	next.Version = t.Version + 1
	if err := txn.Insert(tableTransfers, next); err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	txn.Commit()
	t.Version = next.Version
	return nil
}

func (s *MemStore) FindByReference(_ context.Context, reference string) (*transfer.Transfer, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTransfers, indexReference, reference)
	if err != nil {
		return nil, fmt.Errorf("lookup reference: %w", err)
	}
	t, _ := raw.(*transfer.Transfer)
	if t == nil {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemStore) FindByIdempotencyKey(_ context.Context, key string) (*transfer.Transfer, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTransfers, indexIdempotencyKey, key)
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	t, _ := raw.(*transfer.Transfer)
	if t == nil {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemStore) FindByAccount(_ context.Context, accountID string, scope Scope, page Page) ([]*transfer.Transfer, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	seen := make(map[string]*transfer.Transfer)
	if scope == ScopeAll || scope == ScopeFrom {
		if err := collect(txn, indexFromAccount, accountID, seen); err != nil {
			return nil, err
		}
	}
	if scope == ScopeAll || scope == ScopeTo {
		if err := collect(txn, indexToAccount, accountID, seen); err != nil {
			return nil, err
		}
	}

	out := make([]*transfer.Transfer, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Reference < out[j].Reference
	})
	return paginate(out, page.normalized()), nil
}

func (s *MemStore) FindStuck(_ context.Context, statuses []transfer.Status, olderThan time.Time) ([]*transfer.Transfer, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	var out []*transfer.Transfer
	for _, st := range statuses {
		it, err := txn.Get(tableTransfers, indexStatus, string(st))
		if err != nil {
			return nil, fmt.Errorf("scan status %s: %w", st, err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			t := raw.(*transfer.Transfer)
			if t.UpdatedAt.Before(olderThan) {
				out = append(out, t.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func collect(txn *memdb.Txn, index, accountID string, into map[string]*transfer.Transfer) error {
	it, err := txn.Get(tableTransfers, index, accountID)
	if err != nil {
		return fmt.Errorf("scan %s: %w", index, err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		t := raw.(*transfer.Transfer)
		into[t.Reference] = t.Clone()
	}
	return nil
}

func paginate(in []*transfer.Transfer, page Page) []*transfer.Transfer {
	if page.Offset >= len(in) {
		return nil
	}
	in = in[page.Offset:]
	if len(in) > page.Limit {
		in = in[:page.Limit]
	}
	return in
}
