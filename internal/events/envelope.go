// Package events emits transfer lifecycle events. Delivery is
// at-least-once and always follows durable persistence of the state that
// the event announces; consumers deduplicate by (reference, status).
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

type Kind string

const (
	KindInitiated   Kind = "transfer.initiated"
	KindCompleted   Kind = "transfer.completed"
	KindFailed      Kind = "transfer.failed"
	KindCompensated Kind = "transfer.compensated"
)

// KindForTerminal maps a terminal status to the event kind announcing it.
func KindForTerminal(st transfer.Status) (Kind, bool) {
	switch st {
	case transfer.StatusCompleted:
		return KindCompleted, true
	case transfer.StatusFailed:
		return KindFailed, true
	case transfer.StatusCompensated:
		return KindCompensated, true
	}
	return "", false
}

// Envelope is the published payload: a snapshot of the aggregate at
// emission time. All events of one transfer share the partition key
// Reference, which is what gives subscribers a per-transfer linear
// history.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Kind          Kind            `json:"kind"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Reference     string          `json:"reference"`
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        transfer.Status `json:"status"`
	Type          transfer.Type   `json:"type"`
	Description   string          `json:"description,omitempty"`
	InitiatedAt   time.Time       `json:"initiated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	DebitTxID     string          `json:"debit_tx_id,omitempty"`
	CreditTxID    string          `json:"credit_tx_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

func NewEnvelope(kind Kind, t *transfer.Transfer, at time.Time) Envelope {
	e := Envelope{
		EventID:       uuid.NewString(),
		Kind:          kind,
		EmittedAt:     at.UTC(),
		Reference:     t.Reference,
		FromAccount:   t.FromAccount,
		ToAccount:     t.ToAccount,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        t.Status,
		Type:          t.Type,
		Description:   t.Description,
		InitiatedAt:   t.InitiatedAt,
		DebitTxID:     t.DebitTxID,
		CreditTxID:    t.CreditTxID,
		FailureReason: t.FailureReason,
	}
	if !t.CompletedAt.IsZero() {
		done := t.CompletedAt
		e.CompletedAt = &done
	}
	return e
}
