package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Genesis is the HashPrev of the first entry in a chain.
const Genesis = "GENESIS"

func ComputeHash(prev string, tr Transition) string {
	h := sha256.New()
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write([]byte("|" + tr.Reference))
	_, _ = h.Write([]byte("|" + tr.RecordedAt.UTC().Format("2006-01-02T15:04:05.999999999Z")))
	_, _ = h.Write([]byte("|" + tr.From + "|" + tr.To + "|" + tr.Reason))
	_, _ = h.Write([]byte(fmt.Sprintf("|%d", tr.Version)))
	return hex.EncodeToString(h.Sum(nil))
}
