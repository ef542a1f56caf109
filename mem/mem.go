// Package mem implements the coremap: the physical frame allocator
// every address space is built on top of. It generalizes the
// teacher's Physmem_t -- a refcounted, per-CPU free-list allocator for
// x86-64 -- into the single-spinlock, packed-status-word, contiguous-run
// coremap this kernel core uses, trading refcounting (no COW here) for
// exact contiguous-run tracking.
package mem

import (
	"fmt"

	"caller"
	"defs"
	"lock"
	"stats"
)

/// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGMASK masks the page-aligned portion of an address.
const PGMASK uintptr = ^(uintptr(PGSIZE) - 1)

/// Pa_t is a physical address.
type Pa_t uintptr

const (
	cmeAllocated uint32 = 1 << 0
	cmeContig    uint32 = 1 << 1
	cmeWritable  uint32 = 1 << 2
	cmeFrameShift       = 12
)

/// Cme_t is one coremap entry: the owning address space (nil means
/// kernel-owned), the virtual address the frame is bound to, and a
/// packed 32-bit status word. As is declared interface{} rather than
/// *vm.Addrspace_t to avoid an import cycle with package vm; callers
/// compare it by identity.
type Cme_t struct {
	As    interface{}
	Vaddr uintptr
	Info  uint32
}

func (c *Cme_t) allocated() bool { return c.Info&cmeAllocated != 0 }
func (c *Cme_t) contig() bool    { return c.Info&cmeContig != 0 }
func (c *Cme_t) writable() bool  { return c.Info&cmeWritable != 0 }
func (c *Cme_t) frameno() uint32 { return c.Info >> cmeFrameShift }

func mkinfo(frameno uint32, allocated, contig, writable bool) uint32 {
	info := frameno << cmeFrameShift
	if allocated {
		info |= cmeAllocated
	}
	if contig {
		info |= cmeContig
	}
	if writable {
		info |= cmeWritable
	}
	return info
}

/// Coremap_t is the physical frame allocator. There being no real RAM
/// behind this reimplementation, it owns a flat byte slice standing in
/// for the managed region and hands out windows into it via Dmap --
/// the same direct-map idiom as the teacher's mem/dmap.go, simplified
/// from a recursive page-table trick to a flat slice since there is no
/// MMU to program.
type Coremap_t struct {
	Spinlock   lock.Spinlock_t
	entries    []Cme_t
	ram        []byte
	firstPaddr Pa_t
	nmapped    int
	nfree      int
	dc         caller.Distinct_caller_t

	// Allocs counts every successful frame allocation (kernel or user),
	// the same Counter_t idiom the teacher's own hot paths use; a
	// no-op unless stats.Stats is enabled.
	Allocs stats.Counter_t
}

/// Bootstrap sizes and initializes a coremap managing the region from
/// firstFreePaddr up to ramSize (the end address of RAM, so
/// (ramSize-firstFreePaddr)/PGSIZE frames), per the self-placement
/// rule: the coremap header and entry array occupy whole pages
/// starting at firstFreePaddr and do not track themselves.
func Bootstrap(firstFreePaddr, ramSize int) *Coremap_t {
	pagesFree := (ramSize - firstFreePaddr) / PGSIZE
	if pagesFree < 0 {
		pagesFree = 0
	}
	const entrySize = 32 // conservative upper bound on Cme_t's encoded size
	headerBytes := entrySize*pagesFree + PGSIZE
	ncoremapPages := (headerBytes + PGSIZE - 1) / PGSIZE

	firstPaddr := firstFreePaddr + ncoremapPages*PGSIZE
	nmanaged := (ramSize - firstPaddr) / PGSIZE
	if nmanaged < 0 {
		nmanaged = 0
	}

	cm := &Coremap_t{
		entries:    make([]Cme_t, nmanaged),
		ram:        make([]byte, nmanaged*PGSIZE),
		firstPaddr: Pa_t(firstPaddr),
		nmapped:    nmanaged,
		nfree:      nmanaged,
	}
	for i := range cm.entries {
		paddr := firstPaddr + i*PGSIZE
		frameno := uint32(paddr >> PGSHIFT)
		cm.entries[i] = Cme_t{Info: mkinfo(frameno, false, false, false)}
	}
	cm.dc.Enabled = true
	return cm
}

func (cm *Coremap_t) idx(paddr Pa_t) (int, bool) {
	if paddr < cm.firstPaddr {
		return 0, false
	}
	i := int(paddr-cm.firstPaddr) / PGSIZE
	if i >= len(cm.entries) {
		return 0, false
	}
	return i, true
}

func (cm *Coremap_t) paddr(i int) Pa_t {
	return cm.firstPaddr + Pa_t(i*PGSIZE)
}

/// AllocKpages scans for a run of n free, contiguous frames and marks
/// them allocated, returning the kernel-visible address of the run's
/// first frame (0 on failure). The whole scan and update happens under
/// the coremap spinlock.
func (cm *Coremap_t) AllocKpages(n int) uintptr {
	if n <= 0 {
		return 0
	}
	cm.Spinlock.Lock()
	defer cm.Spinlock.Unlock()

	if cm.nfree < n {
		return 0
	}
	run := cm.findFreeRun(n)
	if run < 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		e := &cm.entries[run+i]
		e.Info = mkinfo(e.frameno(), true, i != 0, true)
	}
	cm.nfree -= n
	cm.Allocs.Inc()
	return uintptr(cm.paddr(run))
}

func (cm *Coremap_t) findFreeRun(n int) int {
	run := 0
	for i := 0; i < len(cm.entries); i++ {
		if cm.entries[i].allocated() {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1
		}
	}
	return -1
}

/// FreeKpages frees the run of contiguous frames starting at vaddr. A
/// misaligned or out-of-range vaddr, or one naming an unallocated
/// frame, is a silent no-op. The forward scan that frees the rest of
/// the run stops at len(cm.entries): the teacher's analogous scan had
/// no such bound and could run past the array on a corrupt coremap.
func (cm *Coremap_t) FreeKpages(vaddr uintptr) {
	if vaddr%uintptr(PGSIZE) != 0 {
		return
	}
	cm.Spinlock.Lock()
	defer cm.Spinlock.Unlock()

	start, ok := cm.idx(Pa_t(vaddr))
	if !ok {
		return
	}
	if !cm.entries[start].allocated() {
		return
	}
	e := &cm.entries[start]
	e.Info = mkinfo(e.frameno(), false, false, false)
	cm.nfree++

	for i := start + 1; i < len(cm.entries); i++ {
		e := &cm.entries[i]
		if !e.allocated() || !e.contig() {
			break
		}
		e.Info = mkinfo(e.frameno(), false, false, false)
		cm.nfree++
	}
}

/// AllocUpage allocates a single frame owned by as, bound to vaddr in
/// that address space's page table, and returns its physical address
/// (0 on failure).
func (cm *Coremap_t) AllocUpage(as interface{}, vaddr uintptr) Pa_t {
	cm.Spinlock.Lock()
	defer cm.Spinlock.Unlock()

	run := cm.findFreeRun(1)
	if run < 0 {
		return 0
	}
	e := &cm.entries[run]
	e.Info = mkinfo(e.frameno(), true, false, true)
	e.As = as
	e.Vaddr = vaddr
	cm.nfree--
	cm.Allocs.Inc()
	return cm.paddr(run)
}

/// FreeUpage frees a single user frame. as must be the frame's current
/// owner, checked against the total mapped-frame count (nmapped), not
/// the free count -- the teacher's analogous range check used the free
/// count, which rejects valid indices once the coremap is partly
/// allocated.
func (cm *Coremap_t) FreeUpage(as interface{}, paddr Pa_t) defs.Err_t {
	cm.Spinlock.Lock()
	defer cm.Spinlock.Unlock()

	i, ok := cm.idx(paddr)
	if !ok || i >= cm.nmapped {
		return -defs.EFAULT
	}
	e := &cm.entries[i]
	if !e.allocated() {
		return -defs.EFAULT
	}
	if e.As != as {
		return -defs.EPERM
	}
	e.As = nil
	e.Vaddr = 0
	e.Info = mkinfo(e.frameno(), false, false, false)
	cm.nfree++
	return 0
}

/// CopyPage copies a page of bytes from src to dest, both physical
/// addresses. Both must be page-aligned and within the managed region;
/// dest must be allocated and writable.
func (cm *Coremap_t) CopyPage(src, dest Pa_t) defs.Err_t {
	if uintptr(src)%uintptr(PGSIZE) != 0 || uintptr(dest)%uintptr(PGSIZE) != 0 {
		return -defs.EINVAL
	}
	si, ok := cm.idx(src)
	if !ok {
		return -defs.EFAULT
	}
	di, ok := cm.idx(dest)
	if !ok {
		return -defs.EFAULT
	}
	cm.Spinlock.Lock()
	defer cm.Spinlock.Unlock()
	if !cm.entries[di].allocated() || !cm.entries[di].writable() {
		return -defs.EFAULT
	}
	copy(cm.Dmap(dest), cm.Dmap(src)[:PGSIZE])
	_ = si
	return 0
}

/// UsedBytes returns a snapshot of bytes currently allocated; it may be
/// stale by the time the caller observes it and takes no lock.
func (cm *Coremap_t) UsedBytes() int {
	return (cm.nmapped - cm.nfree) * PGSIZE
}

/// Dmap returns the byte window backing the frame at paddr, the
/// direct-map idiom from the teacher's mem/dmap.go with no real MMU
/// behind it.
func (cm *Coremap_t) Dmap(paddr Pa_t) []byte {
	i, ok := cm.idx(paddr)
	if !ok {
		if first, trace := cm.dc.Distinct(); first {
			fmt.Printf("mem: Dmap: paddr %#x outside managed region\n%s", paddr, trace)
		}
		panic(fmt.Sprintf("mem: Dmap: paddr %#x outside managed region", paddr))
	}
	return cm.ram[i*PGSIZE : (i+1)*PGSIZE]
}

/// AllocCount reports the running total of successful frame
/// allocations. Zero unless built with stats.Stats enabled.
func (cm *Coremap_t) AllocCount() int64 { return int64(cm.Allocs) }

/// NMapped reports the total number of frames the coremap manages.
func (cm *Coremap_t) NMapped() int { return cm.nmapped }

/// NFree reports a snapshot of currently free frames.
func (cm *Coremap_t) NFree() int {
	cm.Spinlock.Lock()
	defer cm.Spinlock.Unlock()
	return cm.nfree
}
