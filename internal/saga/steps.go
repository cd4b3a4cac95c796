package saga

import (
	"context"
	"fmt"

	"github.com/wizardbeardstudio/open-transfer-go/internal/account"
	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

// step is one forward action of the saga paired with its compensating
// action. Execute mutates the aggregate (recording evidence such as port
// transaction ids) but never persists it; the orchestrator owns every
// save. Compensate must be safe to invoke whether or not Execute ran: it
// consults the aggregate's persisted evidence and succeeds trivially when
// there is nothing to undo.
type step interface {
	Name() string
	// PreState is the checkpoint persisted before Execute runs; PostState
	// is persisted after it succeeds.
	PreState() transfer.Status
	PostState() transfer.Status
	Execute(ctx context.Context, t *transfer.Transfer) error
	Compensate(ctx context.Context, t *transfer.Transfer) error
}

// validationStep reads both accounts and checks the business
// preconditions in a fixed order; the first violation short-circuits. It
// has no side effects, so its compensator is a no-op.
type validationStep struct {
	port account.Port
}

func (validationStep) Name() string               { return "validation" }
func (validationStep) PreState() transfer.Status  { return transfer.StatusValidating }
func (validationStep) PostState() transfer.Status { return transfer.StatusDebitPending }

func (s validationStep) Execute(ctx context.Context, t *transfer.Transfer) error {
	if t.FromAccount == t.ToAccount {
		return fmt.Errorf("from and to accounts must differ")
	}
	from, err := s.port.Lookup(ctx, t.FromAccount)
	if err != nil {
		return fmt.Errorf("from account %s: %w", t.FromAccount, err)
	}
	if !from.Active() {
		return fmt.Errorf("from account %s is %s, want %s", t.FromAccount, from.Status, account.StatusActive)
	}
	to, err := s.port.Lookup(ctx, t.ToAccount)
	if err != nil {
		return fmt.Errorf("to account %s: %w", t.ToAccount, err)
	}
	if !to.Active() {
		return fmt.Errorf("to account %s is %s, want %s", t.ToAccount, to.Status, account.StatusActive)
	}
	if from.Currency != t.Currency {
		return fmt.Errorf("from account %s holds %s, transfer is in %s", t.FromAccount, from.Currency, t.Currency)
	}
	if to.Currency != t.Currency {
		return fmt.Errorf("to account %s holds %s, transfer is in %s", t.ToAccount, to.Currency, t.Currency)
	}
	if from.Balance.LessThan(t.Amount) {
		return fmt.Errorf("insufficient balance: account %s holds %s, transfer needs %s", t.FromAccount, from.Balance, t.Amount)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", t.Amount)
	}
	return nil
}

func (validationStep) Compensate(context.Context, *transfer.Transfer) error { return nil }

// debitStep takes the funds from the source account. The transfer
// reference doubles as the port's idempotency key, so a re-invoked debit
// after a crash returns the original transaction id instead of debiting
// twice.
type debitStep struct {
	port account.Port
}

func (debitStep) Name() string               { return "debit" }
func (debitStep) PreState() transfer.Status  { return transfer.StatusDebitPending }
func (debitStep) PostState() transfer.Status { return transfer.StatusDebitCompleted }

func (s debitStep) Execute(ctx context.Context, t *transfer.Transfer) error {
	txID, err := s.port.Debit(ctx, t.FromAccount, t.Amount, t.Reference)
	if err != nil {
		return err
	}
	t.RecordDebit(txID)
	return nil
}

// Compensate returns the debited funds to the source account under the
// reversal reference, which never collides with the forward transaction
// on the port.
func (s debitStep) Compensate(ctx context.Context, t *transfer.Transfer) error {
	if t.DebitTxID == "" {
		return nil
	}
	_, err := s.port.Credit(ctx, t.FromAccount, t.Amount, transfer.ReversalRef(t.Reference))
	return err
}

// creditStep delivers the funds to the destination account.
type creditStep struct {
	port account.Port
}

func (creditStep) Name() string               { return "credit" }
func (creditStep) PreState() transfer.Status  { return transfer.StatusCreditPending }
func (creditStep) PostState() transfer.Status { return transfer.StatusCompleted }

func (s creditStep) Execute(ctx context.Context, t *transfer.Transfer) error {
	txID, err := s.port.Credit(ctx, t.ToAccount, t.Amount, t.Reference)
	if err != nil {
		return err
	}
	t.RecordCredit(txID)
	return nil
}

func (s creditStep) Compensate(ctx context.Context, t *transfer.Transfer) error {
	if t.CreditTxID == "" {
		return nil
	}
	_, err := s.port.Debit(ctx, t.ToAccount, t.Amount, transfer.ReversalRef(t.Reference))
	return err
}
