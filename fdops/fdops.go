// Package fdops defines the opaque boundary between a file handle and
// whatever backs it -- an in-memory console device, a pipe, eventually
// a real filesystem. A real VFS is out of scope (see SPEC_FULL.md);
// this is its contract, shaped after the callsites the teacher's
// vm.Vm_t.Vmadd_file (Reopen/Close) and circbuf.Circbuf_t
// (Uioread/Uiowrite, generalized here to plain byte slices since there
// is no user/kernel address-space crossing at this layer) imply.
package fdops

import (
	"defs"
	"stat"
)

/// Fdops_i is implemented by anything that can sit behind a file
/// handle.
type Fdops_i interface {
	Read(dst []uint8) (int, defs.Err_t)
	Write(src []uint8) (int, defs.Err_t)
	// Seek reports whether off is an acceptable seek target.
	Seek(off int) defs.Err_t
	IsSeekable() bool
	Stat(*stat.Stat_t) defs.Err_t
	// Reopen lets the backing object bump any refcount it keeps of its
	// own. fd.FileTable_t's Dup2 and Copy do not call it: they share the
	// handle and bump the handle's Refcount instead.
	Reopen() defs.Err_t
	Close() defs.Err_t
}
