package transfer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrBadRequest marks malformed input rejected before the state machine
// starts. No aggregate is created for these.
var ErrBadRequest = errors.New("bad request")

const (
	maxDescriptionLen    = 500
	maxFailureReasonLen  = 1000
	maxIdempotencyKeyLen = 128
)

// Request is the input to initiate. Business preconditions (account
// existence, balance, same-account, positive amount) are the validation
// step's job and end as FAILED aggregates; Validate only rejects input the
// aggregate cannot represent.
type Request struct {
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Type           Type
	IdempotencyKey string
}

// Normalize trims identifier fields and upper-cases the currency code.
func (r *Request) Normalize() {
	r.FromAccount = strings.TrimSpace(r.FromAccount)
	r.ToAccount = strings.TrimSpace(r.ToAccount)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.Type == "" {
		r.Type = TypeInternal
	}
}

func (r Request) Validate() error {
	if r.FromAccount == "" {
		return fmt.Errorf("%w: from_account is required", ErrBadRequest)
	}
	if r.ToAccount == "" {
		return fmt.Errorf("%w: to_account is required", ErrBadRequest)
	}
	if !validCurrency(r.Currency) {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrBadRequest)
	}
	if r.Amount.Exponent() < -2 {
		return fmt.Errorf("%w: amount has more than 2 decimal places", ErrBadRequest)
	}
	if _, err := ParseType(string(r.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if len(r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrBadRequest, maxDescriptionLen)
	}
	if len(r.IdempotencyKey) > maxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency key exceeds %d characters", ErrBadRequest, maxIdempotencyKeyLen)
	}
	return nil
}

func validCurrency(v string) bool {
	if len(v) != 3 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 'A' || v[i] > 'Z' {
			return false
		}
	}
	return true
}
