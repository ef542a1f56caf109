// Package condev provides an in-memory console device implementing
// fdops.Fdops_i, bound to fd 0/1/2 at process creation. There is no
// real UART here; it stands in for the "con:" device spec.md's file
// table wires every fresh process to, backed by the ring buffer from
// circbuf the way the teacher's own console path feeds circbuf from
// UART interrupts.
package condev

import (
	"bytes"
	"sync"

	"circbuf"
	"defs"
	"stat"
)

/// Console_t is a single shared input/output console: writes append to
/// an output log, reads drain an input ring buffer that a test or demo
/// harness feeds via Feed.
type Console_t struct {
	mu  sync.Mutex
	in  *circbuf.Circbuf_t
	out []byte
}

/// MkConsole returns a console with a 4KiB input ring buffer.
func MkConsole() *Console_t {
	return &Console_t{in: circbuf.MkCircbuf(4096)}
}

/// Feed injects bytes as if typed at the console, making them
/// available to a subsequent Read. Bytes beyond the input buffer's
/// remaining capacity are dropped.
func (c *Console_t) Feed(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Copyin(bytes.NewReader(b))
}

/// Read drains up to len(dst) buffered input bytes.
func (c *Console_t) Read(dst []uint8) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(dst) == 0 {
		return 0, 0
	}
	var w bytes.Buffer
	n, _ := c.in.CopyoutN(&w, len(dst))
	copy(dst, w.Bytes())
	return n, 0
}

/// Write appends src to the console's output log.
func (c *Console_t) Write(src []uint8) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, src...)
	return len(src), 0
}

/// Output returns a copy of everything ever written to the console,
/// for tests and the demo harness to inspect.
func (c *Console_t) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(c.out))
	copy(cp, c.out)
	return cp
}

/// Seek: the console is not seekable; any nonzero offset is rejected.
func (c *Console_t) Seek(off int) defs.Err_t {
	if off != 0 {
		return -defs.ESPIPE
	}
	return 0
}

/// IsSeekable reports false: the console has no notion of offset.
func (c *Console_t) IsSeekable() bool { return false }

/// Stat fills st with the console's device stat info (major D_CONSOLE).
func (c *Console_t) Stat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.Mkdev(defs.D_CONSOLE, 0))
	st.Wsize(0)
	return 0
}

/// Reopen bumps nothing -- the console has no refcount of its own; the
/// file handle that owns a Console_t reference manages its own
/// refcount.
func (c *Console_t) Reopen() defs.Err_t { return 0 }

/// Close is a no-op: the console outlives every handle referencing it.
func (c *Console_t) Close() defs.Err_t { return 0 }
