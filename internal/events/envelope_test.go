package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

func completedTransfer(t *testing.T) *transfer.Transfer {
	t.Helper()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tr := transfer.New(transfer.Request{
		FromAccount: "acc-1",
		ToAccount:   "acc-2",
		Amount:      decimal.RequireFromString("100.00"),
		Currency:    "TRY",
		Type:        transfer.TypeInternal,
	}, "TXF-AAAAAAAAAAAA", at)
	for i, st := range []transfer.Status{
		transfer.StatusValidating, transfer.StatusDebitPending,
		transfer.StatusDebitCompleted, transfer.StatusCreditPending, transfer.StatusCompleted,
	} {
		if err := tr.TransitionTo(st, at.Add(time.Duration(i+1)*time.Second)); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	tr.RecordDebit("D1")
	tr.RecordCredit("C1")
	return tr
}

func TestKindForTerminal(t *testing.T) {
	cases := []struct {
		st   transfer.Status
		kind Kind
		ok   bool
	}{
		{transfer.StatusCompleted, KindCompleted, true},
		{transfer.StatusFailed, KindFailed, true},
		{transfer.StatusCompensated, KindCompensated, true},
		{transfer.StatusPending, "", false},
		{transfer.StatusCompensating, "", false},
	}
	for _, tc := range cases {
		kind, ok := KindForTerminal(tc.st)
		if kind != tc.kind || ok != tc.ok {
			t.Fatalf("KindForTerminal(%s) = (%s, %v), want (%s, %v)", tc.st, kind, ok, tc.kind, tc.ok)
		}
	}
}

func TestNewEnvelopeSnapshotsAggregate(t *testing.T) {
	tr := completedTransfer(t)
	at := time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC)

	e := NewEnvelope(KindCompleted, tr, at)
	if e.EventID == "" {
		t.Fatal("event id not assigned")
	}
	if e.Reference != tr.Reference || e.Status != transfer.StatusCompleted {
		t.Fatalf("envelope: %+v", e)
	}
	if e.DebitTxID != "D1" || e.CreditTxID != "C1" {
		t.Fatalf("tx ids: %+v", e)
	}
	if e.CompletedAt == nil || !e.CompletedAt.Equal(tr.CompletedAt) {
		t.Fatalf("completed_at: %v", e.CompletedAt)
	}
	if !e.EmittedAt.Equal(at) {
		t.Fatalf("emitted_at = %v", e.EmittedAt)
	}

	other := NewEnvelope(KindCompleted, tr, at)
	if other.EventID == e.EventID {
		t.Fatal("event ids must be unique per emission")
	}
}

func TestEnvelopeFailureReasonOnWire(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tr := transfer.New(transfer.Request{
		FromAccount: "acc-1",
		ToAccount:   "acc-2",
		Amount:      decimal.RequireFromString("100.00"),
		Currency:    "TRY",
		Type:        transfer.TypeInternal,
	}, "TXF-BBBBBBBBBBBB", at)
	tr.AppendFailure("credit failed: account inactive")
	tr.AppendFailure("compensation failed: unavailable")

	raw, err := json.Marshal(NewEnvelope(KindFailed, tr, at))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, `"failure_reason":"credit failed: account inactive | compensation failed: unavailable"`) {
		t.Fatalf("failure_reason missing or mangled: %s", body)
	}
	if !strings.Contains(body, `"kind":"transfer.failed"`) {
		t.Fatalf("kind missing: %s", body)
	}
	if strings.Contains(body, `"completed_at"`) {
		t.Fatalf("completed_at must be omitted for non-success: %s", body)
	}
}

func TestMemoryPublisherKeepsOrder(t *testing.T) {
	p := NewMemoryPublisher()
	tr := completedTransfer(t)
	at := time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC)

	if err := p.Publish(context.Background(), NewEnvelope(KindInitiated, tr, at)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Publish(context.Background(), NewEnvelope(KindCompleted, tr, at.Add(time.Second))); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := p.ByReference(tr.Reference)
	if len(got) != 2 || got[0].Kind != KindInitiated || got[1].Kind != KindCompleted {
		t.Fatalf("events = %+v", got)
	}
	if p.ByReference("TXF-ZZZZZZZZZZZZ") != nil {
		t.Fatal("unexpected events for unknown reference")
	}
}
