// Package account is the boundary to the external Account Service. The
// orchestrator only ever sees the Port interface and the error taxonomy
// below; transports and call policies live behind them.
package account

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Statuses reported by the remote service. Anything but ACTIVE blocks a
// transfer at validation.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInactive          = errors.New("account inactive")
	ErrUnavailable       = errors.New("account service unavailable")
)

// Account is the lookup response snapshot.
type Account struct {
	ID       string
	Balance  decimal.Decimal
	Currency string
	Status   string
}

func (a Account) Active() bool {
	return a.Status == StatusActive
}

// Port abstracts the Account Service. Debit and Credit are idempotent on
// clientRef: repeated calls with the same clientRef return the same
// transaction id and apply the mutation at most once. The forward pass
// uses the transfer reference, compensation uses the -REVERSAL derivative.
type Port interface {
	Lookup(ctx context.Context, accountID string) (Account, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, clientRef string) (string, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, clientRef string) (string, error)
}
