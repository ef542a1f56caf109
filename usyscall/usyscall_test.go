package usyscall

import (
	"strings"
	"testing"

	"defs"
	"fdops"
	"mem"
	"proc"
	"stat"
	"ustr"
)

type fakeCon struct{}

func (fakeCon) Read(dst []uint8) (int, defs.Err_t)  { return 0, 0 }
func (fakeCon) Write(src []uint8) (int, defs.Err_t) { return len(src), 0 }
func (fakeCon) Seek(off int) defs.Err_t             { return 0 }
func (fakeCon) IsSeekable() bool                    { return false }
func (fakeCon) Stat(st *stat.Stat_t) defs.Err_t     { return 0 }
func (fakeCon) Reopen() defs.Err_t                  { return 0 }
func (fakeCon) Close() defs.Err_t                   { return 0 }

var _ fdops.Fdops_i = fakeCon{}

func mkproc(t *testing.T) (*proc.ProcTable_t, *mem.Coremap_t, *proc.Process_t) {
	t.Helper()
	pt := proc.MkProcTable(1, 16)
	cm := mem.Bootstrap(0, 4096*4096)
	p, err := proc.MkRootProcess(pt, cm, ustr.Ustr("init"), fakeCon{})
	if err != 0 {
		t.Fatalf("MkRootProcess: err=%d", err)
	}
	return pt, cm, p
}

func TestGetpidReturnsOwnPid(t *testing.T) {
	_, _, p := mkproc(t)
	if Getpid(p) != p.Pid {
		t.Fatalf("Getpid = %d, want %d", Getpid(p), p.Pid)
	}
}

func TestForkExitWaitRoundtrip(t *testing.T) {
	pt, _, parent := mkproc(t)
	childPid, err := Fork(pt, parent)
	if err != 0 {
		t.Fatalf("Fork: err=%d", err)
	}
	child, err := pt.Get(childPid)
	if err != 0 {
		t.Fatalf("Get(child): err=%d", err)
	}
	Exit(pt, child, 9)

	var status int
	pid, err := Waitpid(pt, parent, childPid, &status, 0)
	if err != 0 {
		t.Fatalf("Waitpid: err=%d", err)
	}
	if pid != childPid {
		t.Fatalf("Waitpid returned %d, want %d", pid, childPid)
	}
	if !defs.WIFEXITED(status) || defs.WEXITSTATUS(status) != 9 {
		t.Fatalf("status = %#x, want exited with code 9", status)
	}
}

func TestWaitpidNilStatusIsAccepted(t *testing.T) {
	pt, _, parent := mkproc(t)
	childPid, _ := Fork(pt, parent)
	child, _ := pt.Get(childPid)
	Exit(pt, child, 0)
	if _, err := Waitpid(pt, parent, childPid, nil, 0); err != 0 {
		t.Fatalf("Waitpid with nil status: err=%d", err)
	}
}

func TestSanitizeStringStripsControlBytes(t *testing.T) {
	out, err := sanitizeString("hi\x00there\x07")
	if err != nil {
		t.Fatalf("sanitizeString: %v", err)
	}
	if strings.ContainsAny(out, "\x00\x07") {
		t.Fatalf("sanitizeString left control bytes in %q", out)
	}
	if out != "hithere" {
		t.Fatalf("sanitizeString = %q, want %q", out, "hithere")
	}
}

func TestOpenCloseReadWrite(t *testing.T) {
	_, _, p := mkproc(t)
	fdn, err := Open(p, "/tmp/x", fakeCon{}, 3) // fd.FD_READ|fd.FD_WRITE
	if err != 0 {
		t.Fatalf("Open: err=%d", err)
	}
	if n, err := Write(p, fdn, []byte("hello")); err != 0 || n != 5 {
		t.Fatalf("Write: n=%d err=%d", n, err)
	}
	if err := Close(p, fdn); err != 0 {
		t.Fatalf("Close: err=%d", err)
	}
	if _, err := Read(p, fdn, make([]byte, 4)); err != -defs.EBADF {
		t.Fatalf("Read after close: err=%d, want -EBADF", err)
	}
}

func TestDup2SharesDescriptor(t *testing.T) {
	_, _, p := mkproc(t)
	fdn, _ := Open(p, "/tmp/y", fakeCon{}, 3)
	nfd, err := Dup2(p, fdn, fdn+10)
	if err != 0 {
		t.Fatalf("Dup2: err=%d", err)
	}
	if nfd != fdn+10 {
		t.Fatalf("Dup2 returned %d, want %d", nfd, fdn+10)
	}
}

func TestChdirGetcwdRoundtrip(t *testing.T) {
	_, _, p := mkproc(t)
	if err := Chdir(p, "/usr/bin"); err != 0 {
		t.Fatalf("Chdir: err=%d", err)
	}
	if got := Getcwd(p); got != "/usr/bin" {
		t.Fatalf("Getcwd = %q, want /usr/bin", got)
	}
}

func TestChdirRelativeIsResolvedAgainstCwd(t *testing.T) {
	_, _, p := mkproc(t)
	Chdir(p, "/usr")
	Chdir(p, "bin")
	if got := Getcwd(p); got != "/usr/bin" {
		t.Fatalf("Getcwd = %q, want /usr/bin", got)
	}
}

func TestExecvReplacesAddressSpaceAndLaysOutArgv(t *testing.T) {
	_, cm, p := mkproc(t)
	oldAs := p.As
	argc, argvAddr, err := Execv(cm, p, ustr.Ustr("/bin/sh"), []string{"sh", "-c", "echo hi"})
	if err != 0 {
		t.Fatalf("Execv: err=%d", err)
	}
	if argc != 3 {
		t.Fatalf("argc = %d, want 3", argc)
	}
	if argvAddr == 0 {
		t.Fatal("argvAddr is zero")
	}
	if p.As == oldAs {
		t.Fatal("Execv did not replace the address space")
	}
}

func TestExecvRejectsOversizedArgv(t *testing.T) {
	_, cm, p := mkproc(t)
	oldAs := p.As
	huge := strings.Repeat("x", 1<<21)
	if _, _, err := Execv(cm, p, ustr.Ustr("/bin/sh"), []string{huge}); err != -defs.E2BIG {
		t.Fatalf("Execv: err=%d, want -E2BIG", err)
	}
	if p.As != oldAs {
		t.Fatal("Execv must not replace the address space on E2BIG")
	}
}
