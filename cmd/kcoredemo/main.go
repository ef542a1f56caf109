// Command kcoredemo boots a coremap and process table in-process and
// runs the concrete scenarios spec.md section 8 describes end to end,
// printing each outcome -- the same small-main-using-flag/fmt/log idiom
// the teacher's kernel/chentry.go uses to drive its own boot sequence,
// retargeted from booting real hardware to exercising this package set
// against each other.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"condev"
	"defs"
	"diag"
	"lock"
	"mem"
	"proc"
	"tinfo"
	"ustr"
	"usyscall"
)

var (
	ramPages = flag.Int("ram-pages", 4096, "number of physical frames of RAM to boot with; the coremap's own pages come out of these")
	verbose  = flag.Bool("v", false, "print diag profile totals after each scenario")
)

func main() {
	flag.Parse()

	cm := mem.Bootstrap(0, *ramPages*mem.PGSIZE)
	rec := diag.MkRecorder("pages")

	scenarioFrameAllocatorRoundtrip(cm, rec)
	scenarioForkExitWait(cm, rec)
	scenarioOrphanExit(cm, rec)
	scenarioExecvArgvMarshaling(cm, rec)
	scenarioCopyOnForkIsolation(cm, rec)
	scenarioWriterPreferringRWLock()

	if *verbose {
		fmt.Printf("diag: %d page-samples recorded\n", rec.Total())
	}
}

func scenarioFrameAllocatorRoundtrip(cm *mem.Coremap_t, rec *diag.Recorder_t) {
	v1 := cm.AllocKpages(4)
	if v1 == 0 {
		log.Fatal("scenario 1: alloc_kpages(4) failed")
	}
	v2 := cm.AllocKpages(1)
	if v2 == 0 {
		log.Fatal("scenario 1: alloc_kpages(1) failed")
	}
	cm.FreeKpages(v1)
	if got := cm.UsedBytes(); got != mem.PGSIZE {
		log.Fatalf("scenario 1: used_bytes = %d, want %d", got, mem.PGSIZE)
	}
	v3 := cm.AllocKpages(3)
	if v3 == 0 || v3 != v1 {
		log.Fatalf("scenario 1: alloc_kpages(3) = %#x, want the freed run at %#x", v3, v1)
	}
	diag.SampleCoremap(rec, cm)
	fmt.Println("scenario 1 (frame allocator round-trip): ok")
}

func scenarioForkExitWait(cm *mem.Coremap_t, rec *diag.Recorder_t) {
	pt := proc.MkProcTable(1, 256)
	con := condev.MkConsole()
	parent, err := proc.MkRootProcess(pt, cm, ustr.Ustr("parent"), con)
	if err != 0 {
		log.Fatalf("scenario 2: MkRootProcess: err=%d", err)
	}
	childPid, err := usyscall.Fork(pt, parent)
	if err != 0 {
		log.Fatalf("scenario 2: fork: err=%d", err)
	}
	child, err := pt.Get(childPid)
	if err != 0 {
		log.Fatalf("scenario 2: get(child): err=%d", err)
	}
	usyscall.Exit(pt, child, 7)

	var status int
	pid, err := usyscall.Waitpid(pt, parent, childPid, &status, 0)
	if err != 0 {
		log.Fatalf("scenario 2: waitpid: err=%d", err)
	}
	if pid != childPid || !defs.WIFEXITED(status) || defs.WEXITSTATUS(status) != 7 {
		log.Fatalf("scenario 2: waitpid returned (%d, %#x), want (%d, exit 7)", pid, status, childPid)
	}
	if _, err := usyscall.Waitpid(pt, parent, childPid, nil, 0); err == 0 {
		log.Fatal("scenario 2: second waitpid on a reaped child should fail")
	}
	diag.SampleProcTable(rec, pt)
	fmt.Println("scenario 2 (fork + exit + wait): ok")
}

func scenarioOrphanExit(cm *mem.Coremap_t, rec *diag.Recorder_t) {
	pt := proc.MkProcTable(1, 256)
	con := condev.MkConsole()
	parent, _ := proc.MkRootProcess(pt, cm, ustr.Ustr("parent"), con)
	aPid, _ := usyscall.Fork(pt, parent)
	a, _ := pt.Get(aPid)
	bPid, _ := usyscall.Fork(pt, a)

	usyscall.Exit(pt, a, 0)
	if _, err := pt.Get(aPid); err != 0 {
		log.Fatal("scenario 3: A's parent is alive and un-exited, A should still be reapable")
	}

	b, _ := pt.Get(bPid)
	usyscall.Exit(pt, b, 3)
	if _, err := pt.Get(bPid); err == 0 {
		log.Fatal("scenario 3: B's parent A had already exited, B should have self-destructed")
	}
	diag.SampleProcTable(rec, pt)
	fmt.Println("scenario 3 (orphan exit): ok")
}

func scenarioExecvArgvMarshaling(cm *mem.Coremap_t, rec *diag.Recorder_t) {
	pt := proc.MkProcTable(1, 256)
	con := condev.MkConsole()
	p, _ := proc.MkRootProcess(pt, cm, ustr.Ustr("execer"), con)
	argc, argvAddr, err := usyscall.Execv(cm, p, ustr.Ustr("/bin/x"), []string{"Hello", "World"})
	if err != 0 {
		log.Fatalf("scenario 4: execv: err=%d", err)
	}
	if argc != 2 {
		log.Fatalf("scenario 4: argc = %d, want 2", argc)
	}
	if argvAddr == 0 || argvAddr >= 0x7fc00000 {
		log.Fatalf("scenario 4: argv_user_addr %#x not below USERSTACK", argvAddr)
	}
	diag.SampleCoremap(rec, cm)
	fmt.Println("scenario 4 (exec argv marshaling): ok")
}

func scenarioCopyOnForkIsolation(cm *mem.Coremap_t, rec *diag.Recorder_t) {
	pt := proc.MkProcTable(1, 256)
	con := condev.MkConsole()
	parent, _ := proc.MkRootProcess(pt, cm, ustr.Ustr("parent"), con)

	const v = 0x1000
	if err := parent.As.DefineRegion(v, uintptr(mem.PGSIZE), true, true, false); err != 0 {
		log.Fatalf("scenario 5: define_region: err=%d", err)
	}
	if err := parent.As.VMFault(defs.FaultWRITE, v); err != 0 {
		log.Fatalf("scenario 5: fault-in V in parent: err=%d", err)
	}
	pa, ok := parent.As.TLBLookup(v)
	if !ok {
		log.Fatal("scenario 5: V not resident in parent after fault")
	}
	cm.Dmap(pa)[0] = 0xAA

	childPid, _ := usyscall.Fork(pt, parent)
	child, _ := pt.Get(childPid)

	cm.Dmap(pa)[0] = 0xBB

	cpa, ok := child.As.TLBLookup(v)
	if !ok {
		if err := child.As.VMFault(defs.FaultREAD, v); err != 0 {
			log.Fatalf("scenario 5: fault-in V in child: err=%d", err)
		}
		cpa, _ = child.As.TLBLookup(v)
	}
	if got := cm.Dmap(cpa)[0]; got != 0xAA {
		log.Fatalf("scenario 5: child observed %#x at V, want 0xAA", got)
	}
	fmt.Println("scenario 5 (copy-on-fork isolation): ok")
}

func scenarioWriterPreferringRWLock() {
	rw := lock.MkRWLock()
	threads := tinfo.MkThreadinfo()
	w1 := threads.New()

	rw.AcquireRead() // R1

	w1done := make(chan bool, 1)
	go func() {
		rw.AcquireWrite(w1)
		w1done <- true
		rw.ReleaseWrite()
	}()
	time.Sleep(20 * time.Millisecond) // let W1 block behind R1

	r2done := make(chan bool, 1)
	go func() {
		rw.AcquireRead()
		r2done <- true
		rw.ReleaseRead()
	}()
	time.Sleep(20 * time.Millisecond) // let R2 queue behind W1

	select {
	case <-r2done:
		log.Fatal("scenario 6: R2 must not cut in front of a waiting writer")
	default:
	}

	rw.ReleaseRead() // R1 releases, W1 should run next

	select {
	case <-w1done:
	case <-time.After(time.Second):
		log.Fatal("scenario 6: W1 never acquired the lock after R1 released")
	}
	select {
	case <-r2done:
	case <-time.After(time.Second):
		log.Fatal("scenario 6: R2 never acquired the lock after W1 released")
	}
	fmt.Println("scenario 6 (writer-preferring RW lock): ok")
}
