package audit

import (
	"errors"
	"sync"
)

var ErrCorruptChain = errors.New("transition chain corruption detected")

// Log is an in-memory transition chain. The orchestrator appends after
// every successful save; readers get per-reference history for the API
// and operators get Verify for tamper checks.
type Log struct {
	mu          sync.Mutex
	transitions []Transition
	last        string
}

func NewLog() *Log {
	return &Log{last: Genesis}
}

// Append links tr to the chain. The previous entry's link is recomputed
// first, so corruption is caught at write time rather than silently
// extended.
func (l *Log) Append(tr Transition) (Transition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.transitions) > 0 {
		prev := l.transitions[len(l.transitions)-1]
		if ComputeHash(prev.HashPrev, prev) != prev.HashCurr {
			return Transition{}, ErrCorruptChain
		}
	}

	tr.HashPrev = l.last
	tr.HashCurr = ComputeHash(l.last, tr)
	l.transitions = append(l.transitions, tr)
	l.last = tr.HashCurr
	return tr, nil
}

// History returns, in append order, every transition recorded for the
// reference.
func (l *Log) History(reference string) []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Transition
	for _, tr := range l.transitions {
		if tr.Reference == reference {
			out = append(out, tr)
		}
	}
	return out
}

func (l *Log) Transitions() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transition, len(l.transitions))
	copy(out, l.transitions)
	return out
}

// Verify walks the whole chain and reports the first broken link.
func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := Genesis
	for _, tr := range l.transitions {
		if tr.HashPrev != prev {
			return ErrCorruptChain
		}
		if ComputeHash(tr.HashPrev, tr) != tr.HashCurr {
			return ErrCorruptChain
		}
		prev = tr.HashCurr
	}
	return nil
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transitions)
}
