package condev

import "testing"

func TestWriteAccumulatesOutput(t *testing.T) {
	c := MkConsole()
	n, err := c.Write([]byte("hi"))
	if err != 0 || n != 2 {
		t.Fatalf("Write: n=%d err=%d", n, err)
	}
	c.Write([]byte(" there"))
	if got := string(c.Output()); got != "hi there" {
		t.Fatalf("Output() = %q", got)
	}
}

func TestFeedThenRead(t *testing.T) {
	c := MkConsole()
	c.Feed([]byte("ls\n"))
	buf := make([]byte, 16)
	n, err := c.Read(buf)
	if err != 0 || n != 3 {
		t.Fatalf("Read: n=%d err=%d", n, err)
	}
	if string(buf[:n]) != "ls\n" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestReadWithNoInputReturnsZero(t *testing.T) {
	c := MkConsole()
	buf := make([]byte, 4)
	n, err := c.Read(buf)
	if err != 0 || n != 0 {
		t.Fatalf("Read on empty console: n=%d err=%d", n, err)
	}
}

func TestSeekRejectsNonzeroOffset(t *testing.T) {
	c := MkConsole()
	if err := c.Seek(0); err != 0 {
		t.Fatalf("Seek(0) should succeed, got %d", err)
	}
	if err := c.Seek(5); err == 0 {
		t.Fatal("Seek to a nonzero offset on a non-seekable device must fail")
	}
}
