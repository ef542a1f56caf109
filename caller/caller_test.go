package caller

import "testing"

func TestDistinctCallerDedup(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true}

	call := func() (bool, string) { return dc.Distinct() }

	first, s := call()
	if !first {
		t.Fatal("first call from a new call site should be distinct")
	}
	if s == "" {
		t.Fatal("expected a non-empty stack trace on first sighting")
	}
	second, _ := call()
	if second {
		t.Fatal("second call from the same call site should not be distinct")
	}
	if dc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", dc.Len())
	}
}

func TestDistinctCallerDisabled(t *testing.T) {
	dc := &Distinct_caller_t{}
	if ok, _ := dc.Distinct(); ok {
		t.Fatal("disabled Distinct_caller_t must never report distinct")
	}
}
