package transfer

import (
	"strings"
	"testing"
)

func TestNewReferenceFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ref, err := NewReference()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !ValidReference(ref) {
			t.Fatalf("reference %q does not match TXF-<12 uppercase alphanumerics>", ref)
		}
		if seen[ref] {
			t.Fatalf("duplicate reference %q within 200 draws", ref)
		}
		seen[ref] = true
	}
}

func TestValidReference(t *testing.T) {
	cases := []struct {
		ref string
		ok  bool
	}{
		{"TXF-A1B2C3D4E5F6", true},
		{"TXF-ZZZZZZZZZZZZ", true},
		{"TXF-short", false},
		{"TXF-a1b2c3d4e5f6", false},
		{"REF-A1B2C3D4E5F6", false},
		{"TXF-A1B2C3D4E5F67", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidReference(tc.ref); got != tc.ok {
			t.Fatalf("ValidReference(%q) = %v, want %v", tc.ref, got, tc.ok)
		}
	}
}

func TestReversalRef(t *testing.T) {
	ref := "TXF-A1B2C3D4E5F6"
	rev := ReversalRef(ref)
	if rev != ref+"-REVERSAL" {
		t.Fatalf("reversal ref = %q", rev)
	}
	if strings.HasPrefix(ref, rev) {
		t.Fatal("reversal ref must differ from forward ref")
	}
}
