// Package limits collects the small set of system-wide tunables
// spec.md parameterizes: process-table bounds, file-table size, and
// copy-in bounds for paths and argv. The Sysatomic_t/Syslimit_t shape
// is kept from the teacher's resource-limit package, retargeted from
// network/vnode/tcp counters to the counters this kernel core actually
// has.
package limits

import "sync/atomic"
import "unsafe"

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount. It
/// returns true on success and leaves the limit unchanged on failure.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

/// Load reads the current value.
func (s *Sysatomic_t) Load() int64 {
	return atomic.LoadInt64(s._aptr())
}

/// Syslimit_t tracks system wide resource limits relevant to the
/// process table, file table, and argv/path copy-in bounds.
type Syslimit_t struct {
	// process table bounds: valid pids lie in [PidMin, PidMax).
	PidMin int
	PidMax int
	// per-process file table size.
	OpenMax int
	// total bytes of argv a single execv may copy in.
	ArgMax int
	// max length of a path copied in from userland.
	PathMax int
	// outstanding-process budget, initialized to PidMax-PidMin.
	// proc.ProcTable_t.Insert and Remove neither consult nor update it.
	Sysprocs Sysatomic_t
}

/// Syslimit holds the configured system-wide limits.
var Syslimit = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits. PID 0 is
/// reserved for the bootstrap kernel process, so PidMin is 1.
func MkSysLimit() *Syslimit_t {
	s := &Syslimit_t{
		PidMin:  1,
		PidMax:  1 << 14,
		OpenMax: 64,
		ArgMax:  1 << 20,
		PathMax: 1024,
	}
	s.Sysprocs = Sysatomic_t(s.PidMax - s.PidMin)
	return s
}
