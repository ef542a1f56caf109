// Package proc implements the process table and process object: PID
// allocation, fork/exit/wait lifecycle, and the orphan self-destruct
// rule. The teacher's own proc package was retrieved with no source
// (its go.mod carries the module but every .go file was filtered out
// of the pack), so this is built fresh, wiring tinfo.Thread_t,
// fd.FileTable_t, vm.Addrspace_t, and accnt.Accnt_t the way the
// teacher's surviving packages show those pieces are meant to fit
// together.
package proc

import (
	"fmt"

	"accnt"
	"caller"
	"defs"
	"fd"
	"fdops"
	"limits"
	"lock"
	"mem"
	"stats"
	"tinfo"
	"ustr"
	"vm"
)

/// threads registers the kernel-thread identity backing each
/// process's own control flow -- the proc package's one caller into
/// tinfo, since nothing upstream of here has a scheduler yet.
var threads = tinfo.MkThreadinfo()

/// dc rate-limits the invariant-violation trace printed before a
/// panic, the same caller.Distinct_caller_t idiom mem uses.
var dc caller.Distinct_caller_t

func init() { dc.Enabled = true }

/// Process_t is one entry in the process table.
type Process_t struct {
	Pid  defs.Pid_t
	Ppid defs.Pid_t
	Name ustr.Ustr

	As  *vm.Addrspace_t
	Fds *fd.FileTable_t

	Spinlock lock.Spinlock_t
	Exited   bool
	ExitStat int

	ExitMu *lock.Mutex_t
	ExitCv *lock.Cond_t

	// Thread is the identity this process's own thread presents to
	// lock.Mutex_t/Cond_t when it acquires its own or another
	// process's exit-wait mutex (waitpid blocks on the target's,
	// never its own).
	Thread *tinfo.Thread_t

	Accnt accnt.Accnt_t
}

func mkProcess(name ustr.Ustr, ppid defs.Pid_t, as *vm.Addrspace_t, fds *fd.FileTable_t) *Process_t {
	p := &Process_t{Name: name, Ppid: ppid, As: as, Fds: fds}
	p.ExitMu = lock.MkMutex()
	p.ExitCv = lock.MkCond(p.ExitMu)
	p.Thread = threads.New()
	return p
}

/// ProcTable_t is the system-wide table of live processes, indexed by
/// pid - limits.PidMin.
type ProcTable_t struct {
	Spinlock lock.Spinlock_t
	slots    []*Process_t
	pidMin   defs.Pid_t
	pidMax   defs.Pid_t

	// Forks counts every successful fork, the same Counter_t idiom
	// mem.Coremap_t uses for its own allocation hot path; a no-op
	// unless stats.Stats is enabled.
	Forks stats.Counter_t
}

/// ForkCount reports the running total of successful forks. Zero
/// unless built with stats.Stats enabled.
func (pt *ProcTable_t) ForkCount() int64 { return int64(pt.Forks) }

/// MkProcTable returns an empty table spanning [pidMin, pidMax).
func MkProcTable(pidMin, pidMax int) *ProcTable_t {
	return &ProcTable_t{
		slots:  make([]*Process_t, pidMax-pidMin),
		pidMin: defs.Pid_t(pidMin),
		pidMax: defs.Pid_t(pidMax),
	}
}

/// MkDefaultProcTable returns a table spanning limits.Syslimit's
/// configured PID range.
func MkDefaultProcTable() *ProcTable_t {
	return MkProcTable(limits.Syslimit.PidMin, limits.Syslimit.PidMax)
}

/// Insert scans for the first free slot, places p there, assigns
/// p.Pid, and returns it. EMPROC if the table is full.
func (pt *ProcTable_t) Insert(p *Process_t) (defs.Pid_t, defs.Err_t) {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()
	for i, s := range pt.slots {
		if s == nil {
			pid := pt.pidMin + defs.Pid_t(i)
			p.Pid = pid
			pt.slots[i] = p
			return pid, 0
		}
	}
	return 0, -defs.EMPROC
}

func (pt *ProcTable_t) slotIndex(pid defs.Pid_t) (int, bool) {
	if pid < pt.pidMin || pid >= pt.pidMax {
		return 0, false
	}
	return int(pid - pt.pidMin), true
}

/// Remove clears pid's slot and returns the process that was there (nil
/// if already empty). ESRCH if pid is out of range.
func (pt *ProcTable_t) Remove(pid defs.Pid_t) (*Process_t, defs.Err_t) {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()
	i, ok := pt.slotIndex(pid)
	if !ok {
		return nil, -defs.ESRCH
	}
	p := pt.slots[i]
	pt.slots[i] = nil
	return p, 0
}

/// Count reports the number of occupied slots, for diag's process-table
/// usage sampling.
func (pt *ProcTable_t) Count() int {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()
	n := 0
	for _, s := range pt.slots {
		if s != nil {
			n++
		}
	}
	return n
}

/// Get returns the process occupying pid's slot. ESRCH if out of range
/// or empty.
func (pt *ProcTable_t) Get(pid defs.Pid_t) (*Process_t, defs.Err_t) {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()
	i, ok := pt.slotIndex(pid)
	if !ok || pt.slots[i] == nil {
		return nil, -defs.ESRCH
	}
	return pt.slots[i], 0
}

/// MkRootProcess builds the first process: a bare address space and a
/// file table pre-bound to con on fds 0/1/2, inserted into pt with
/// Ppid 0 (the bootstrap kernel process, which never occupies a table
/// slot -- so the root process is, by construction, an orphan the
/// moment it exits).
func MkRootProcess(pt *ProcTable_t, cm *mem.Coremap_t, name ustr.Ustr, con fdops.Fdops_i) (*Process_t, defs.Err_t) {
	as := vm.MkAddrspace(cm)
	fds := fd.MkFileTable()
	fds.Install(con)
	p := mkProcess(name, 0, as, fds)
	if _, err := pt.Insert(p); err != 0 {
		return nil, err
	}
	return p, 0
}

/// Fork creates a child of self: a deep copy of the address space and
/// a file table sharing self's open handles (refcounts bumped, slot
/// alignment preserved), inserted into pt under a freshly allocated
/// PID. On any failure the partially built child's address space and
/// file table are torn down before the error is returned -- the
/// rollback spec.md section 9 calls out as missing from the source.
func (pt *ProcTable_t) Fork(self *Process_t) (defs.Pid_t, defs.Err_t) {
	nas, err := self.As.Copy()
	if err != 0 {
		return 0, -defs.ENOMEM
	}

	nfds := self.Fds.Copy()
	child := mkProcess(self.Name, self.Pid, nas, nfds)

	pid, err := pt.Insert(child)
	if err != 0 {
		for i := 0; i < limits.Syslimit.OpenMax; i++ {
			nfds.Close(i)
		}
		nas.Destroy()
		return 0, err
	}
	pt.Forks.Inc()
	return pid, 0
}

/// Exit finalizes self's exit status. If self is an orphan (parent
/// absent or already exited), it self-destructs immediately: removed
/// from the table, address space and file table torn down, never
/// reapable. Otherwise the exit status is published and every waiter
/// on the exit-wait CV is woken; the record persists for the parent to
/// reap with Wait.
func (pt *ProcTable_t) Exit(self *Process_t, code int) {
	parent, perr := pt.Get(self.Ppid)
	orphan := perr != 0 || func() bool {
		parent.Spinlock.Lock()
		defer parent.Spinlock.Unlock()
		return parent.Exited
	}()

	if orphan {
		if _, err := pt.Remove(self.Pid); err != 0 {
			if ok, trace := dc.Distinct(); ok {
				fmt.Printf("proc: _exit: failed to remove self from process table\n%s", trace)
			}
			panic("proc: _exit: failed to remove self from process table")
		}
		for i := 0; i < limits.Syslimit.OpenMax; i++ {
			self.Fds.Close(i)
		}
		self.As.Destroy()
		return
	}

	self.ExitMu.Acquire(self.Thread)
	self.Spinlock.Lock()
	self.ExitStat = defs.MKWAIT_EXIT(code)
	self.Exited = true
	self.Spinlock.Unlock()
	self.ExitCv.Broadcast(self.Thread)
	self.ExitMu.Release(self.Thread)
}

/// Wait implements waitpid: validates options, checks target is a
/// child of self, blocks (unless WNOHANG and the child is still
/// running) until the target has exited, copies out its exit status,
/// and reaps it from the table.
func (pt *ProcTable_t) Wait(self *Process_t, pid defs.Pid_t, options int) (defs.Pid_t, int, defs.Err_t) {
	if options&^(defs.WNOHANG|defs.WUNTRACED) != 0 {
		return 0, 0, -defs.EINVAL
	}
	target, err := pt.Get(pid)
	if err != 0 {
		return 0, 0, -defs.ESRCH
	}
	if target.Ppid != self.Pid {
		return 0, 0, -defs.ECHILD
	}

	target.ExitMu.Acquire(self.Thread)
	for {
		target.Spinlock.Lock()
		exited := target.Exited
		target.Spinlock.Unlock()
		if exited {
			break
		}
		if options&defs.WNOHANG != 0 {
			target.ExitMu.Release(self.Thread)
			return 0, 0, 0
		}
		target.ExitCv.Wait(self.Thread)
	}
	status := target.ExitStat
	target.ExitMu.Release(self.Thread)

	pt.Remove(pid)
	self.Accnt.Add(&target.Accnt)
	return pid, status, 0
}
