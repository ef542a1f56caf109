// Package vm implements the two-level page table, address space, and
// TLB refill handler for a 32-bit MIPS-like machine. It generalizes
// the teacher's Vm_t -- an x86-64 four-level copy-on-write pmap wired
// to a coremap of refcounted pages -- into the spec's simpler
// two-level, non-COW table, keeping the Lock_pmap/Unlock_pmap/
// Lockassert_pmap discipline the teacher uses to serialize page-table
// mutation against concurrent page faults.
package vm

import (
	"defs"
	"lock"
	"mem"
	"util"
)

/// PGSHIFT is the base-2 exponent of the page size, mirrored from mem
/// so vm callers don't need to import mem just for this constant.
const PGSHIFT = mem.PGSHIFT

/// PGSIZE is the page size in bytes.
const PGSIZE = mem.PGSIZE

/// USERSTACK is the top of user virtual address space, the initial
/// stack pointer handed back by DefineStack.
const USERSTACK uintptr = 0x7fc00000

/// USERSTACK_SIZE is the size of the eagerly-allocated initial stack.
const USERSTACK_SIZE uintptr = 2 << 20

const pgoffset uintptr = uintptr(PGSIZE) - 1

func vpn(vaddr uintptr) uint32 { return uint32(vaddr>>PGSHIFT) & 0xfffff }

func l1idx(vaddr uintptr) uint32 { return (vpn(vaddr) >> 10) & 0x3ff }
func l2idx(vaddr uintptr) uint32 { return vpn(vaddr) & 0x3ff }

/// Pte_t is a single page-table entry: the virtual address it backs
/// and the physical frame, 0 meaning present-but-unbacked (allocated,
/// lazily faulted in).
type Pte_t struct {
	Vaddr uintptr
	Paddr mem.Pa_t
}

type secondlevel_t [1024]*Pte_t

/// Pagetable_t is the two-level MIPS-style page table: 1024 first-level
/// slots, each pointing at a 1024-entry second level allocated on
/// first use in that slot.
type Pagetable_t struct {
	Spinlock lock.Spinlock_t
	top      [1024]*secondlevel_t
	NAlloc   int
}

/// MkPagetable returns an empty two-level page table.
func MkPagetable() *Pagetable_t {
	return &Pagetable_t{}
}

/// AllocPage creates an unbacked entry for vaddr, allocating the
/// second-level array on demand. Returns EFAULT if the slot is already
/// occupied.
func (pt *Pagetable_t) AllocPage(vaddr uintptr) defs.Err_t {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()

	i1, i2 := l1idx(vaddr), l2idx(vaddr)
	if pt.top[i1] == nil {
		pt.top[i1] = &secondlevel_t{}
	}
	if pt.top[i1][i2] != nil {
		return -defs.EFAULT
	}
	pt.top[i1][i2] = &Pte_t{Vaddr: vaddr}
	pt.NAlloc++
	return 0
}

/// FreePage detaches the entry for vaddr, if any, and frees its
/// backing frame (if it was ever faulted in). A no-op if absent.
func (pt *Pagetable_t) FreePage(cm *mem.Coremap_t, as interface{}, vaddr uintptr) {
	pt.Spinlock.Lock()
	i1, i2 := l1idx(vaddr), l2idx(vaddr)
	var backed mem.Pa_t
	if pt.top[i1] != nil && pt.top[i1][i2] != nil {
		backed = pt.top[i1][i2].Paddr
		pt.top[i1][i2] = nil
		pt.NAlloc--
	}
	pt.Spinlock.Unlock()
	if backed != 0 {
		cm.FreeUpage(as, backed)
	}
}

/// GetEntry looks up the entry for vaddr without allocating
/// intermediate nodes.
func (pt *Pagetable_t) GetEntry(vaddr uintptr) (*Pte_t, bool) {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()
	i1, i2 := l1idx(vaddr), l2idx(vaddr)
	if pt.top[i1] == nil {
		return nil, false
	}
	e := pt.top[i1][i2]
	return e, e != nil
}

/// Copy builds a fresh page table mirroring pt: for every live entry
/// it creates a matching destination entry, allocates a fresh frame
/// owned by newas, and copies the backing bytes. On ENOMEM the partial
/// new table is destroyed before the error is reported.
func (pt *Pagetable_t) Copy(cm *mem.Coremap_t, newas interface{}) (*Pagetable_t, defs.Err_t) {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()

	dst := MkPagetable()
	for _, sl := range pt.top {
		if sl == nil {
			continue
		}
		for _, e := range sl {
			if e == nil {
				continue
			}
			if err := dst.AllocPage(e.Vaddr); err != 0 {
				dst.Destroy(cm, newas)
				return nil, err
			}
			if e.Paddr == 0 {
				continue
			}
			npa := cm.AllocUpage(newas, e.Vaddr)
			if npa == 0 {
				dst.Destroy(cm, newas)
				return nil, -defs.ENOMEM
			}
			if err := cm.CopyPage(e.Paddr, npa); err != 0 {
				dst.Destroy(cm, newas)
				return nil, err
			}
			de, _ := dst.GetEntry(e.Vaddr)
			de.Paddr = npa
		}
	}
	dst.NAlloc = pt.NAlloc
	return dst, 0
}

/// Destroy sweeps every second-level array, freeing the backing frame
/// (if any) and the entry itself, then asserts n_alloc reached zero.
func (pt *Pagetable_t) Destroy(cm *mem.Coremap_t, as interface{}) {
	pt.Spinlock.Lock()
	defer pt.Spinlock.Unlock()
	for i1, sl := range pt.top {
		if sl == nil {
			continue
		}
		for i2, e := range sl {
			if e == nil {
				continue
			}
			if e.Paddr != 0 {
				cm.FreeUpage(as, e.Paddr)
			}
			sl[i2] = nil
			pt.NAlloc--
		}
		pt.top[i1] = nil
	}
	if pt.NAlloc != 0 {
		panic("vm: Destroy: n_alloc != 0 after sweep")
	}
}

/// Segment_t records one defined region of an address space.
type Segment_t struct {
	Start   uintptr
	NPages  int
	Read    bool
	Write   bool
	Execute bool
}

const maxTLBEntries = 64

type tlbent_t struct {
	entryHi uintptr
	entryLo mem.Pa_t
	valid   bool
}

const (
	tlbVALID = mem.Pa_t(1 << 0)
	tlbDIRTY = mem.Pa_t(1 << 1)
)

/// Addrspace_t is a process's virtual address space: a page table, a
/// small fixed set of segment slots, and a simulated TLB cache. The
/// Lock_pmap/Unlock_pmap/Lockassert_pmap trio is kept verbatim from
/// the teacher's naming convention, since it is exactly the lock
/// discipline callers must follow when touching Pt or Segments.
type Addrspace_t struct {
	Coremap *mem.Coremap_t

	Pt       *Pagetable_t
	Segments [4]*Segment_t
	Heap     *Segment_t
	Stack    *Segment_t

	spin      lock.Spinlock_t
	pgfltaken bool

	tlb    [maxTLBEntries]tlbent_t
	tlbpos int
}

/// MkAddrspace creates an empty address space: an empty page table and
/// four null segment slots.
func MkAddrspace(cm *mem.Coremap_t) *Addrspace_t {
	return &Addrspace_t{Coremap: cm, Pt: MkPagetable()}
}

/// Lock_pmap acquires the address space lock and marks a page fault as
/// in progress.
func (as *Addrspace_t) Lock_pmap() {
	as.spin.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space lock.
func (as *Addrspace_t) Unlock_pmap() {
	as.pgfltaken = false
	as.spin.Unlock()
}

/// Lockassert_pmap panics if the address space lock is not held.
func (as *Addrspace_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vm: pmap lock must be held")
	}
}

/// DefineRegion computes the page count for memsize bytes, builds a
/// segment, inserts it into the first null slot of the four fixed
/// segment slots, and eagerly calls AllocPage for every page. The slot
/// set does not grow: with all four slots taken it returns ENOMEM.
/// Permission bits are recorded but not enforced.
func (as *Addrspace_t) DefineRegion(vaddr, memsize uintptr, r, w, x bool) defs.Err_t {
	npages := int(util.Roundup(int(memsize), PGSIZE)) / PGSIZE
	seg := &Segment_t{Start: vaddr, NPages: npages, Read: r, Write: w, Execute: x}

	as.Lock_pmap()
	defer as.Unlock_pmap()

	slot := -1
	for i, s := range as.Segments {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return -defs.ENOMEM
	}
	as.Segments[slot] = seg

	for i := 0; i < npages; i++ {
		va := vaddr + uintptr(i*PGSIZE)
		if err := as.Pt.AllocPage(va); err != 0 {
			return err
		}
	}
	return 0
}

/// DefineStack inserts a fixed-size stack segment just below USERSTACK,
/// eagerly allocates its pages, and returns the initial stack pointer.
func (as *Addrspace_t) DefineStack() (uintptr, defs.Err_t) {
	base := USERSTACK - USERSTACK_SIZE
	if err := as.DefineRegion(base, USERSTACK_SIZE, true, true, false); err != 0 {
		return 0, err
	}
	as.Lock_pmap()
	for _, s := range as.Segments {
		if s != nil && s.Start == base {
			as.Stack = s
		}
	}
	as.Unlock_pmap()
	return USERSTACK, 0
}

/// Copy clones the page table (with frame copies) and every segment
/// record, preserving the distinguished heap/stack pointers.
func (as *Addrspace_t) Copy() (*Addrspace_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	nas := MkAddrspace(as.Coremap)
	npt, err := as.Pt.Copy(as.Coremap, nas)
	if err != 0 {
		return nil, err
	}
	nas.Pt = npt
	for i, s := range as.Segments {
		if s == nil {
			continue
		}
		ns := *s
		nas.Segments[i] = &ns
		if s == as.Heap {
			nas.Heap = &ns
		}
		if s == as.Stack {
			nas.Stack = &ns
		}
	}
	return nas, 0
}

/// Destroy destroys the page table (freeing frames) then clears every
/// segment record.
func (as *Addrspace_t) Destroy() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	as.Pt.Destroy(as.Coremap, as)
	for i := range as.Segments {
		as.Segments[i] = nil
	}
	as.Heap, as.Stack = nil, nil
}

/// VMFault resolves a TLB-refill fault at faultaddr of the given type.
/// READONLY faults are a kernel bug (pages are created writable) and
/// panic. An absent entry is EFAULT; a present-but-unbacked entry is
/// lazily backed by a fresh user frame.
func (as *Addrspace_t) VMFault(ft defs.FaultType_t, faultaddr uintptr) defs.Err_t {
	if ft == defs.FaultREADONLY {
		panic("vm: VMFault: READONLY fault -- pages are always created writable")
	}
	pageaddr := faultaddr &^ pgoffset

	as.Lock_pmap()
	defer as.Unlock_pmap()

	e, ok := as.Pt.GetEntry(pageaddr)
	if !ok {
		return -defs.EFAULT
	}
	if e.Paddr == 0 {
		pa := as.Coremap.AllocUpage(as, pageaddr)
		if pa == 0 {
			return -defs.ENOMEM
		}
		e.Paddr = pa
	}
	as.installTLB(pageaddr, e.Paddr)
	return 0
}

func (as *Addrspace_t) installTLB(pageaddr uintptr, paddr mem.Pa_t) {
	entryHi := pageaddr &^ pgoffset
	entryLo := (paddr &^ mem.Pa_t(pgoffset)) | tlbVALID | tlbDIRTY
	as.tlb[as.tlbpos] = tlbent_t{entryHi: entryHi, entryLo: entryLo, valid: true}
	as.tlbpos = (as.tlbpos + 1) % maxTLBEntries
}

/// Activate invalidates every TLB entry, as happens on address-space
/// switch on real hardware.
func (as *Addrspace_t) Activate() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for i := range as.tlb {
		as.tlb[i] = tlbent_t{}
	}
	as.tlbpos = 0
}

/// TLBLookup reports whether a simulated TLB entry currently covers
/// vaddr, for testing VMFault's installation behavior.
func (as *Addrspace_t) TLBLookup(vaddr uintptr) (mem.Pa_t, bool) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	page := vaddr &^ pgoffset
	for _, e := range as.tlb {
		if e.valid && e.entryHi == page {
			return e.entryLo &^ mem.Pa_t(pgoffset), true
		}
	}
	return 0, false
}

/// TLBShootdown is a stub on this uniprocessor reimplementation: real
/// multiprocessor shootdown is out of scope.
func (as *Addrspace_t) TLBShootdown(uintptr, int) {}
