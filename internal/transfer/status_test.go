package transfer

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusValidating, true},
		{StatusValidating, StatusDebitPending, true},
		{StatusValidating, StatusFailed, true},
		{StatusDebitPending, StatusDebitCompleted, true},
		{StatusDebitPending, StatusCompensating, true},
		{StatusDebitCompleted, StatusCreditPending, true},
		{StatusCreditPending, StatusCompleted, true},
		{StatusCreditPending, StatusCompensating, true},
		{StatusCompensating, StatusCompensated, true},
		{StatusCompensating, StatusFailed, true},

		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusValidating, StatusCompleted, false},
		{StatusDebitCompleted, StatusCompensating, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCompensated, StatusCompensating, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("transition %s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted:   true,
		StatusFailed:      true,
		StatusCompensated: true,
	}
	all := append(NonTerminalStatuses(), StatusCompleted, StatusFailed, StatusCompensated)
	for _, s := range all {
		if s.Terminal() != terminal[s] {
			t.Fatalf("terminal(%s) = %v, want %v", s, s.Terminal(), terminal[s])
		}
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	if _, err := ParseStatus("SETTLED"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	got, err := ParseStatus("DEBIT_PENDING")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != StatusDebitPending {
		t.Fatalf("got %s", got)
	}
}

func TestParseType(t *testing.T) {
	if _, err := ParseType("WIRE"); err == nil {
		t.Fatal("expected error for unknown type")
	}
	got, err := ParseType("EXTERNAL")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != TypeExternal {
		t.Fatalf("got %s", got)
	}
}
