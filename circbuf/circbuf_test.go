package circbuf

import (
	"bytes"
	"strings"
	"testing"
)

func TestCopyinCopyoutRoundTrip(t *testing.T) {
	cb := MkCircbuf(8)
	n, err := cb.Copyin(strings.NewReader("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Copyin: n=%d err=%v", n, err)
	}
	if cb.Used() != 5 {
		t.Fatalf("Used() = %d, want 5", cb.Used())
	}
	var out bytes.Buffer
	n, err = cb.Copyout(&out)
	if err != nil || n != 5 {
		t.Fatalf("Copyout: n=%d err=%v", n, err)
	}
	if out.String() != "hello" {
		t.Fatalf("got %q", out.String())
	}
	if !cb.Empty() {
		t.Fatal("buffer should be empty after copying everything out")
	}
}

func TestCopyinStopsWhenFull(t *testing.T) {
	cb := MkCircbuf(4)
	n, err := cb.Copyin(strings.NewReader("abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4 (buffer capacity)", n)
	}
	if !cb.Full() {
		t.Fatal("buffer should report full")
	}
	n2, err := cb.Copyin(strings.NewReader("z"))
	if err != nil || n2 != 0 {
		t.Fatalf("Copyin on a full buffer should return (0, nil), got (%d, %v)", n2, err)
	}
}

func TestWraparound(t *testing.T) {
	cb := MkCircbuf(4)
	cb.Copyin(strings.NewReader("ab"))
	var out bytes.Buffer
	cb.Copyout(&out)
	cb.Copyin(strings.NewReader("cdef"))
	out.Reset()
	n, err := cb.Copyout(&out)
	if err != nil || n != 4 || out.String() != "cdef" {
		t.Fatalf("n=%d err=%v out=%q", n, err, out.String())
	}
}
