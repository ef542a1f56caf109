package accnt

import "testing"

func TestUtaddSystaddAccumulate(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(10)
	if a.Userns != 150 {
		t.Fatalf("Userns = %d, want 150", a.Userns)
	}
	if a.Sysns != 10 {
		t.Fatalf("Sysns = %d, want 10", a.Sysns)
	}
}

func TestAddMergesTwoRecords(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(10)
	a.Systadd(5)
	b.Utadd(20)
	b.Systadd(7)
	a.Add(&b)
	if a.Userns != 30 || a.Sysns != 12 {
		t.Fatalf("merged = {%d, %d}, want {30, 12}", a.Userns, a.Sysns)
	}
}

func TestToRusageLength(t *testing.T) {
	var a Accnt_t
	a.Utadd(1e9)
	ru := a.To_rusage()
	if len(ru) != 32 {
		t.Fatalf("To_rusage length = %d, want 32", len(ru))
	}
}
