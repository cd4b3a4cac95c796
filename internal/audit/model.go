// Package audit keeps a tamper-evident, hash-chained record of every
// persisted transfer state transition. The chain is append-only: each
// entry carries the hash of its predecessor, so any rewrite of history is
// detectable by recomputing the links.
package audit

import "time"

// Transition records one persisted move of a transfer through its state
// machine. Reason carries the failure text for transitions onto the
// FAILED/COMPENSATING/COMPENSATED path and is empty on the success path.
type Transition struct {
	Reference  string
	From       string
	To         string
	Reason     string
	Version    int64
	RecordedAt time.Time
	HashPrev   string
	HashCurr   string
}
