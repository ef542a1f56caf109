package tinfo

import "testing"

func TestNewAssignsIncreasingTids(t *testing.T) {
	ti := MkThreadinfo()
	a := ti.New()
	b := ti.New()
	if a.Tid == b.Tid {
		t.Fatalf("expected distinct tids, got %d and %d", a.Tid, b.Tid)
	}
	if !a.Alive || !b.Alive {
		t.Fatal("newly created notes must be alive")
	}
	if got, ok := ti.Get(a.Tid); !ok || got != a {
		t.Fatal("Get did not return the note New created")
	}
}

func TestRetireRemovesFromRegistry(t *testing.T) {
	ti := MkThreadinfo()
	a := ti.New()
	ti.Retire(a)
	if a.Alive {
		t.Fatal("Retire must mark the note dead")
	}
	if _, ok := ti.Get(a.Tid); ok {
		t.Fatal("Retire must remove the note from the registry")
	}
}

func TestKillAndDoomed(t *testing.T) {
	ti := MkThreadinfo()
	a := ti.New()
	if a.Doomed() {
		t.Fatal("fresh note must not be doomed")
	}
	a.Kill()
	if !a.Doomed() {
		t.Fatal("Kill must mark the note doomed")
	}
}
