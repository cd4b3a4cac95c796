package saga

import (
	"context"

	"github.com/wizardbeardstudio/open-transfer-go/internal/audit"
	"github.com/wizardbeardstudio/open-transfer-go/internal/store"
	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

// GetByReference returns the current snapshot of one transfer.
func (o *Orchestrator) GetByReference(ctx context.Context, reference string) (transfer.Snapshot, error) {
	t, err := o.store.FindByReference(ctx, reference)
	if err != nil {
		return transfer.Snapshot{}, err
	}
	return transfer.SnapshotOf(t), nil
}

// ListByAccount pages through the transfers an account participates in,
// newest first. Scope narrows the match to the debit side, the credit
// side, or both.
func (o *Orchestrator) ListByAccount(ctx context.Context, accountID string, scope store.Scope, page store.Page) ([]transfer.Snapshot, error) {
	ts, err := o.store.FindByAccount(ctx, accountID, scope, page)
	if err != nil {
		return nil, err
	}
	out := make([]transfer.Snapshot, 0, len(ts))
	for _, t := range ts {
		out = append(out, transfer.SnapshotOf(t))
	}
	return out, nil
}

// ListFrom pages the transfers debiting the account.
func (o *Orchestrator) ListFrom(ctx context.Context, accountID string, page store.Page) ([]transfer.Snapshot, error) {
	return o.ListByAccount(ctx, accountID, store.ScopeFrom, page)
}

// ListTo pages the transfers crediting the account.
func (o *Orchestrator) ListTo(ctx context.Context, accountID string, page store.Page) ([]transfer.Snapshot, error) {
	return o.ListByAccount(ctx, accountID, store.ScopeTo, page)
}

// History returns the audited state transitions of one transfer in the
// order they were recorded.
func (o *Orchestrator) History(reference string) []audit.Transition {
	return o.audit.History(reference)
}

// VerifyAudit re-walks the whole transition chain and reports the first
// broken link, if any.
func (o *Orchestrator) VerifyAudit() error {
	return o.audit.Verify()
}
