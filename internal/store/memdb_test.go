package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

func newMemStore(t *testing.T) *MemStore {
	t.Helper()
	s, err := NewMemStore()
	if err != nil {
		t.Fatalf("new mem store: %v", err)
	}
	return s
}

func testTransfer(reference, idemKey string, at time.Time) *transfer.Transfer {
	return transfer.New(transfer.Request{
		FromAccount:    "acc-from",
		ToAccount:      "acc-to",
		Amount:         decimal.RequireFromString("100.00"),
		Currency:       "TRY",
		Type:           transfer.TypeInternal,
		IdempotencyKey: idemKey,
	}, reference, at)
}

func TestMemStoreInsertAndFind(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tr := testTransfer("TXF-AAAAAAAAAAAA", "key-1", at)
	if err := s.Save(ctx, tr); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tr.Version != 1 {
		t.Fatalf("version after insert = %d, want 1", tr.Version)
	}

	got, err := s.FindByReference(ctx, "TXF-AAAAAAAAAAAA")
	if err != nil {
		t.Fatalf("find by reference: %v", err)
	}
	if got.Reference != tr.Reference || got.Version != 1 {
		t.Fatalf("unexpected load: %+v", got)
	}

	byKey, err := s.FindByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("find by idempotency key: %v", err)
	}
	if byKey.Reference != tr.Reference {
		t.Fatalf("key lookup returned %s", byKey.Reference)
	}

	if _, err := s.FindByReference(ctx, "TXF-ZZZZZZZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing reference: err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreDuplicateReference(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := s.Save(ctx, testTransfer("TXF-AAAAAAAAAAAA", "", at)); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := s.Save(ctx, testTransfer("TXF-AAAAAAAAAAAA", "", at))
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("err = %v, want ErrDuplicateReference", err)
	}
}

func TestMemStoreDuplicateIdempotencyKey(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := s.Save(ctx, testTransfer("TXF-AAAAAAAAAAAA", "key-1", at)); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := s.Save(ctx, testTransfer("TXF-BBBBBBBBBBBB", "key-1", at))
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("err = %v, want ErrDuplicateIdempotencyKey", err)
	}

	// Absent keys never collide.
	if err := s.Save(ctx, testTransfer("TXF-CCCCCCCCCCCC", "", at)); err != nil {
		t.Fatalf("save without key: %v", err)
	}
	if err := s.Save(ctx, testTransfer("TXF-DDDDDDDDDDDD", "", at)); err != nil {
		t.Fatalf("save second without key: %v", err)
	}
}

func TestMemStoreOptimisticConcurrency(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tr := testTransfer("TXF-AAAAAAAAAAAA", "", at)
	if err := s.Save(ctx, tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := s.FindByReference(ctx, tr.Reference)
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	second, err := s.FindByReference(ctx, tr.Reference)
	if err != nil {
		t.Fatalf("load second: %v", err)
	}

	if err := first.TransitionTo(transfer.StatusValidating, at.Add(time.Second)); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("save first writer: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("version = %d, want 2", first.Version)
	}

	if err := second.TransitionTo(transfer.StatusValidating, at.Add(2*time.Second)); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Save(ctx, second); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("stale writer err = %v, want ErrConcurrentModification", err)
	}
}

func TestMemStoreUpdateMissing(t *testing.T) {
	s := newMemStore(t)
	tr := testTransfer("TXF-AAAAAAAAAAAA", "", time.Now().UTC())
	tr.Version = 3
	if err := s.Save(context.Background(), tr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreHandsOutClones(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	tr := testTransfer("TXF-AAAAAAAAAAAA", "", time.Now().UTC())
	if err := s.Save(ctx, tr); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.FindByReference(ctx, tr.Reference)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded.Status = transfer.StatusFailed

	again, err := s.FindByReference(ctx, tr.Reference)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Status != transfer.StatusPending {
		t.Fatalf("stored aggregate mutated through a read clone: %s", again.Status)
	}
}

func TestMemStoreFindByAccount(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mk := func(ref, from, to string, offset time.Duration) {
		tr := testTransfer(ref, "", base.Add(offset))
		tr.FromAccount = from
		tr.ToAccount = to
		if err := s.Save(ctx, tr); err != nil {
			t.Fatalf("save %s: %v", ref, err)
		}
	}
	mk("TXF-AAAAAAAAAAA1", "acc-1", "acc-2", 0)
	mk("TXF-AAAAAAAAAAA2", "acc-2", "acc-1", time.Second)
	mk("TXF-AAAAAAAAAAA3", "acc-1", "acc-3", 2*time.Second)
	mk("TXF-AAAAAAAAAAA4", "acc-3", "acc-2", 3*time.Second)

	all, err := s.FindByAccount(ctx, "acc-1", ScopeAll, Page{})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d transfers, want 3", len(all))
	}
	// Newest first.
	if all[0].Reference != "TXF-AAAAAAAAAAA3" {
		t.Fatalf("order: first = %s", all[0].Reference)
	}

	from, err := s.FindByAccount(ctx, "acc-1", ScopeFrom, Page{})
	if err != nil {
		t.Fatalf("find from: %v", err)
	}
	if len(from) != 2 {
		t.Fatalf("from = %d transfers, want 2", len(from))
	}

	to, err := s.FindByAccount(ctx, "acc-1", ScopeTo, Page{})
	if err != nil {
		t.Fatalf("find to: %v", err)
	}
	if len(to) != 1 || to[0].Reference != "TXF-AAAAAAAAAAA2" {
		t.Fatalf("to = %+v", to)
	}

	paged, err := s.FindByAccount(ctx, "acc-1", ScopeAll, Page{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("find paged: %v", err)
	}
	if len(paged) != 1 || paged[0].Reference != "TXF-AAAAAAAAAAA2" {
		t.Fatalf("paged = %+v", paged)
	}
}

func TestMemStoreFindStuck(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	old := testTransfer("TXF-AAAAAAAAAAA1", "", base.Add(-time.Hour))
	if err := s.Save(ctx, old); err != nil {
		t.Fatalf("save old: %v", err)
	}
	fresh := testTransfer("TXF-AAAAAAAAAAA2", "", base)
	if err := s.Save(ctx, fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}
	done := testTransfer("TXF-AAAAAAAAAAA3", "", base.Add(-2*time.Hour))
	mustWalk(t, done, base.Add(-2*time.Hour),
		transfer.StatusValidating, transfer.StatusDebitPending,
		transfer.StatusDebitCompleted, transfer.StatusCreditPending, transfer.StatusCompleted)
	done.UpdatedAt = base.Add(-2 * time.Hour)
	if err := s.Save(ctx, done); err != nil {
		t.Fatalf("save done: %v", err)
	}

	stuck, err := s.FindStuck(ctx, transfer.NonTerminalStatuses(), base.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("find stuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].Reference != "TXF-AAAAAAAAAAA1" {
		t.Fatalf("stuck = %+v", refs(stuck))
	}
}

func refs(in []*transfer.Transfer) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		out = append(out, t.Reference)
	}
	return out
}

func mustWalk(t *testing.T, tr *transfer.Transfer, base time.Time, steps ...transfer.Status) {
	t.Helper()
	for i, st := range steps {
		if err := tr.TransitionTo(st, base.Add(time.Duration(i+1)*time.Millisecond)); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}
}
