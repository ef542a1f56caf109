// Package usyscall is the syscall layer: the thin, validating shell
// around proc.ProcTable_t and fd.FileTable_t that a trap handler would
// dispatch into. The teacher's sys_* entry points marshal arguments out
// of a trapframe and hand off to the same proc/fd primitives this
// package calls directly, since there is no real trapframe here -- a
// caller (cmd/kcoredemo, or a future scheduler) passes already-decoded
// Go values instead of raw trapframe registers.
package usyscall

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"bpath"
	"defs"
	"fdops"
	"limits"
	"mem"
	"proc"
	"ustr"
	"util"
	"vm"
)

/// Getpid returns self's pid, the one syscall with no failure mode.
func Getpid(self *proc.Process_t) defs.Pid_t {
	return self.Pid
}

/// Fork creates a child of self and returns its pid to the caller. The
/// child observing a 0 return in its own trapframe is a scheduler-level
/// trampoline concern this package has no trapframe to drive; callers
/// that simulate both sides of a fork must special-case the child leg
/// themselves.
func Fork(pt *proc.ProcTable_t, self *proc.Process_t) (defs.Pid_t, defs.Err_t) {
	return pt.Fork(self)
}

/// Exit finalizes self's exit status with code.
func Exit(pt *proc.ProcTable_t, self *proc.Process_t, code int) {
	pt.Exit(self, code)
}

/// Waitpid blocks (unless options has WNOHANG set) until pid has
/// exited, writes its wait-status encoding to *status if status is
/// non-nil, and reaps the child's table entry.
func Waitpid(pt *proc.ProcTable_t, self *proc.Process_t, pid defs.Pid_t, status *int, options int) (defs.Pid_t, defs.Err_t) {
	rpid, st, err := pt.Wait(self, pid, options)
	if err != 0 {
		return 0, err
	}
	if status != nil {
		*status = st
	}
	return rpid, 0
}

/// sanitizeString strips control runes (unicode.IsControl: C0, DEL and
/// C1; other non-printing categories pass through) and normalizes to
/// NFC, the same defense the teacher applies
/// nowhere but the rest of the retrieved pack's network-facing string
/// intake does -- argv and path bytes arrive from outside the kernel
/// the same way a packet payload does.
func sanitizeString(s string) (string, error) {
	t := transform.Chain(norm.NFC, runes.Remove(runes.Predicate(unicode.IsControl)))
	out, _, err := transform.String(t, s)
	return out, err
}

/// Open resolves name against self's cwd, sanitizes it, and installs a
/// handle for vn in self's file table under flags.
func Open(self *proc.Process_t, name string, vn fdops.Fdops_i, flags int) (int, defs.Err_t) {
	clean, err := sanitizeString(name)
	if err != nil {
		return 0, -defs.EFAULT
	}
	if len(clean) > limits.Syslimit.PathMax {
		return 0, -defs.ENAMETOOLONG
	}
	full := self.Fds.Cwd.Canonicalpath(ustr.Ustr(clean))
	return self.Fds.Open(full, vn, flags)
}

/// Close releases fdn from self's file table.
func Close(self *proc.Process_t, fdn int) defs.Err_t {
	return self.Fds.Close(fdn)
}

/// Read reads into dst via fdn, advancing the handle's offset.
func Read(self *proc.Process_t, fdn int, dst []uint8) (int, defs.Err_t) {
	fh, err := self.Fds.Get(fdn)
	if err != 0 {
		return 0, err
	}
	return fh.Read(dst)
}

/// Write writes src via fdn, advancing the handle's offset.
func Write(self *proc.Process_t, fdn int, src []uint8) (int, defs.Err_t) {
	fh, err := self.Fds.Get(fdn)
	if err != 0 {
		return 0, err
	}
	return fh.Write(src)
}

/// Lseek repositions fdn's offset.
func Lseek(self *proc.Process_t, fdn int, pos int64, whence int) (int64, defs.Err_t) {
	fh, err := self.Fds.Get(fdn)
	if err != 0 {
		return 0, err
	}
	return fh.Lseek(pos, whence)
}

/// Dup2 duplicates oldfd onto newfd in self's file table.
func Dup2(self *proc.Process_t, oldfd, newfd int) (int, defs.Err_t) {
	return self.Fds.Dup2(oldfd, newfd)
}

/// Chdir sanitizes and canonicalizes path, then installs it as self's
/// working directory.
func Chdir(self *proc.Process_t, path string) defs.Err_t {
	clean, err := sanitizeString(path)
	if err != nil {
		return -defs.EFAULT
	}
	if len(clean) > limits.Syslimit.PathMax {
		return -defs.ENAMETOOLONG
	}
	self.Fds.Cwd.Chdir(ustr.Ustr(clean))
	return 0
}

/// Getcwd returns self's current working directory.
func Getcwd(self *proc.Process_t) string {
	return self.Fds.Cwd.Canonicalpath(ustr.MkUstrDot()).String()
}

const (
	execCodeVaddr  = uintptr(0x00400000)
	execCodeMemsz  = 4096
	ptrSize        = uintptr(4)
)

/// writeUser copies data into self's address space at vaddr, faulting
/// in backing frames as needed. Used only during argument marshaling in
/// Execv, where -- per the rollback discipline below -- a failure here
/// can no longer be recovered from.
func writeUser(as *vm.Addrspace_t, cm *mem.Coremap_t, vaddr uintptr, data []byte) defs.Err_t {
	off := 0
	for off < len(data) {
		page := vaddr &^ uintptr(vm.PGSIZE-1)
		pageOff := int(vaddr) - int(page)
		if err := as.VMFault(defs.FaultWRITE, vaddr); err != 0 {
			return err
		}
		e, ok := as.Pt.GetEntry(page)
		if !ok {
			return -defs.EFAULT
		}
		dst := cm.Dmap(e.Paddr)
		n := copy(dst[pageOff:], data[off:])
		off += n
		vaddr += uintptr(n)
	}
	return 0
}

/// Execv replaces self's address space with a freshly built one and
/// lays out argv on its stack, following the rollback discipline
/// spec.md section 9 calls out as missing: the saved address space is
/// held aside until the program image is defined and the stack is
/// carved out, and any failure up to that point restores and
/// reactivates it, leaking nothing. Once argument marshaling begins --
/// writing argv's bytes into the new address space -- a failure is no
/// longer recoverable and panics, matching the one-way-door the real
/// syscall's trapframe switch represents.
func Execv(cm *mem.Coremap_t, self *proc.Process_t, path ustr.Ustr, rawArgv []string) (int, uintptr, defs.Err_t) {
	argv := make([]string, len(rawArgv))
	total := 0
	for i, a := range rawArgv {
		s, err := sanitizeString(a)
		if err != nil {
			return 0, 0, -defs.EFAULT
		}
		argv[i] = s
		total += len(s) + 1
	}
	if total > limits.Syslimit.ArgMax {
		return 0, 0, -defs.E2BIG
	}
	cpath := bpath.Canonicalize(self.Fds.Cwd.Fullpath(path))
	if len(cpath) > limits.Syslimit.PathMax {
		return 0, 0, -defs.ENAMETOOLONG
	}

	saved := self.As
	nas := vm.MkAddrspace(cm)

	if err := nas.DefineRegion(execCodeVaddr, execCodeMemsz, true, false, true); err != 0 {
		nas.Destroy()
		saved.Activate()
		return 0, 0, err
	}

	sp, err := nas.DefineStack()
	if err != 0 {
		nas.Destroy()
		saved.Activate()
		return 0, 0, err
	}

	// Argument marshaling begins here: saved is no longer consulted,
	// and any failure from this point panics rather than unwinds.
	argc := len(argv)
	argvAddr := (sp - uintptr(argc+1)*ptrSize) &^ (ptrSize - 1)

	addrs := make([]uintptr, argc)
	cursor := argvAddr
	for i := argc - 1; i >= 0; i-- {
		data := append([]byte(argv[i]), 0)
		cursor -= uintptr(len(data))
		if err := writeUser(nas, cm, cursor, data); err != 0 {
			panic("usyscall: Execv: argument marshaling failed after point of no return")
		}
		addrs[i] = cursor
	}

	ptrbuf := make([]byte, (argc+1)*int(ptrSize))
	for i, a := range addrs {
		util.Writen(ptrbuf, int(ptrSize), i*int(ptrSize), int(a))
	}
	util.Writen(ptrbuf, int(ptrSize), argc*int(ptrSize), 0)
	if err := writeUser(nas, cm, argvAddr, ptrbuf); err != 0 {
		panic("usyscall: Execv: argument marshaling failed after point of no return")
	}

	saved.Destroy()
	self.As = nas
	nas.Activate()

	return argc, argvAddr, 0
}
