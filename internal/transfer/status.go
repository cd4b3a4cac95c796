package transfer

import "fmt"

// Status is the persisted state-machine position of a transfer.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusValidating     Status = "VALIDATING"
	StatusDebitPending   Status = "DEBIT_PENDING"
	StatusDebitCompleted Status = "DEBIT_COMPLETED"
	StatusCreditPending  Status = "CREDIT_PENDING"
	StatusCompleted      Status = "COMPLETED"
	StatusCompensating   Status = "COMPENSATING"
	StatusCompensated    Status = "COMPENSATED"
	StatusFailed         Status = "FAILED"
)

// Type routes a transfer at the edges of the system. The state machine
// treats both values identically.
type Type string

const (
	TypeInternal Type = "INTERNAL"
	TypeExternal Type = "EXTERNAL"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusValidating},
	StatusValidating:     {StatusDebitPending, StatusFailed},
	StatusDebitPending:   {StatusDebitCompleted, StatusCompensating},
	StatusDebitCompleted: {StatusCreditPending},
	StatusCreditPending:  {StatusCompleted, StatusCompensating},
	StatusCompensating:   {StatusCompensated, StatusFailed},
}

// NonTerminalStatuses lists every state a crash can strand a transfer in,
// in state-machine order. Recovery scans use it as the stuck filter.
func NonTerminalStatuses() []Status {
	return []Status{
		StatusPending,
		StatusValidating,
		StatusDebitPending,
		StatusDebitCompleted,
		StatusCreditPending,
		StatusCompensating,
	}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseStatus(v string) (Status, error) {
	switch Status(v) {
	case StatusPending, StatusValidating, StatusDebitPending,
		StatusDebitCompleted, StatusCreditPending, StatusCompleted,
		StatusCompensating, StatusCompensated, StatusFailed:
		return Status(v), nil
	}
	return "", fmt.Errorf("unknown transfer status %q", v)
}

func ParseType(v string) (Type, error) {
	switch Type(v) {
	case TypeInternal, TypeExternal:
		return Type(v), nil
	}
	return "", fmt.Errorf("unknown transfer type %q", v)
}
