// Package transfer holds the transfer aggregate: the single entity the
// orchestrator owns, its state machine, and its snapshot form.
package transfer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is the persisted aggregate. It is created once, mutated only by
// the orchestrator through the load → mutate → save discipline, and never
// deleted. Version is the optimistic-concurrency token: zero until the
// first save, then strictly increasing with every persisted mutation.
type Transfer struct {
	Reference      string
	IdempotencyKey string
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Type           Type
	Status         Status
	DebitTxID      string
	CreditTxID     string
	FailureReason  string
	InitiatedAt    time.Time
	CompletedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
}

// New builds a PENDING aggregate from a normalized request. The reference
// is generated by the caller so it can be regenerated on collision without
// rebuilding the aggregate.
func New(req Request, reference string, now time.Time) *Transfer {
	now = now.UTC()
	return &Transfer{
		Reference:      reference,
		IdempotencyKey: req.IdempotencyKey,
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		Type:           req.Type,
		Status:         StatusPending,
		InitiatedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransitionTo moves the aggregate to next if the state machine allows it.
// CompletedAt is set exactly when the transfer reaches COMPLETED.
func (t *Transfer) TransitionTo(next Status, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s for %s", t.Status, next, t.Reference)
	}
	t.Status = next
	t.UpdatedAt = now.UTC()
	if next == StatusCompleted {
		t.CompletedAt = now.UTC()
	}
	return nil
}

// RecordDebit stores the port transaction id returned by a successful
// debit. The persisted id is the evidence compensation relies on.
func (t *Transfer) RecordDebit(txID string) {
	t.DebitTxID = txID
}

func (t *Transfer) RecordCredit(txID string) {
	t.CreditTxID = txID
}

// AppendFailure accumulates reasons with a " | " separator, truncated to
// the persisted column limit.
func (t *Transfer) AppendFailure(reason string) {
	if reason == "" {
		return
	}
	if t.FailureReason == "" {
		t.FailureReason = reason
	} else {
		t.FailureReason = t.FailureReason + " | " + reason
	}
	if len(t.FailureReason) > maxFailureReasonLen {
		t.FailureReason = t.FailureReason[:maxFailureReasonLen]
	}
}

func (t *Transfer) Terminal() bool {
	return t.Status.Terminal()
}

// Clone returns an independent copy. Stores hand out and retain clones so
// no caller can mutate a checkpoint in place.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// Snapshot is the externally visible form of the aggregate: every
// attribute except the concurrency token.
type Snapshot struct {
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	FromAccount    string          `json:"from_account"`
	ToAccount      string          `json:"to_account"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description,omitempty"`
	Type           Type            `json:"type"`
	Status         Status          `json:"status"`
	DebitTxID      string          `json:"debit_tx_id,omitempty"`
	CreditTxID     string          `json:"credit_tx_id,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	InitiatedAt    time.Time       `json:"initiated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SnapshotOf maps the aggregate to its snapshot explicitly, field by field.
func SnapshotOf(t *Transfer) Snapshot {
	s := Snapshot{
		Reference:      t.Reference,
		IdempotencyKey: t.IdempotencyKey,
		FromAccount:    t.FromAccount,
		ToAccount:      t.ToAccount,
		Amount:         t.Amount,
		Currency:       t.Currency,
		Description:    t.Description,
		Type:           t.Type,
		Status:         t.Status,
		DebitTxID:      t.DebitTxID,
		CreditTxID:     t.CreditTxID,
		FailureReason:  t.FailureReason,
		InitiatedAt:    t.InitiatedAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if !t.CompletedAt.IsZero() {
		at := t.CompletedAt
		s.CompletedAt = &at
	}
	return s
}
