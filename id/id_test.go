package id_test

import (
	"testing"

	"github.com/migrs/kue/id"
)

func TestString_ZeroPadded(t *testing.T) {
	got := id.JobID(42).String()
	if got != "000000000042" {
		t.Errorf("String() = %q, want %q", got, "000000000042")
	}
	if len(id.JobID(999_999_999_999).String()) != 12 {
		t.Error("expected 12-digit encoding at the upper bound")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, n := range []int64{1, 7, 1000, 999_999_999_999} {
		s := id.JobID(n).String()
		got, err := id.Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", s, err)
		}
		if got.Int64() != n {
			t.Errorf("Parse(%q) = %d, want %d", s, got.Int64(), n)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := id.Parse("not-a-number"); err == nil {
		t.Error("expected error for non-numeric id")
	}
	if _, err := id.Parse("0"); err == nil {
		t.Error("expected error for zero id")
	}
	if _, err := id.Parse("-3"); err == nil {
		t.Error("expected error for negative id")
	}
}

// Lexicographic order of encoded ids must agree with numeric order;
// sorted-set members rely on this as the within-priority tiebreak.
func TestString_OrderAligned(t *testing.T) {
	prev := id.JobID(1).String()
	for _, n := range []int64{2, 9, 10, 99, 100, 12345, 1_000_000} {
		cur := id.JobID(n).String()
		if !(prev < cur) {
			t.Errorf("encoding order broken: %q !< %q", prev, cur)
		}
		prev = cur
	}
}
