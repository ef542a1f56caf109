// Package lock implements the synchronization primitives the rest of
// kcore is built on: a spinlock, a wait channel, a counting semaphore,
// a blocking mutex, a condition variable, and a writer-preferring
// reader/writer lock. The teacher embeds sync.Mutex directly in its
// data structures (mem.Physmem_t, accnt.Accnt_t); lock.Spinlock_t
// keeps that idiom instead of introducing its own futex.
package lock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"defs"
	"tinfo"
)

/// Spinlock_t is the leaf lock every other primitive here builds on.
/// There is no real preemption to disable in a hosted reimplementation;
/// the type exists to name the invariant callers must respect: never
/// block while holding one.
type Spinlock_t struct {
	sync.Mutex
}

/// Wchan_t is a wait channel bound to a caller-supplied spinlock: a
/// sync.Cond over the spinlock's embedded sync.Mutex.
type Wchan_t struct {
	cond *sync.Cond
}

/// MkWchan binds a wait channel to l. l must be held across every call
/// to Sleep.
func MkWchan(l *Spinlock_t) *Wchan_t {
	return &Wchan_t{cond: sync.NewCond(&l.Mutex)}
}

/// Sleep atomically releases the bound spinlock and parks the caller,
/// then reacquires the spinlock before returning. The lock must be held
/// on entry.
func (w *Wchan_t) Sleep() {
	w.cond.Wait()
}

/// Wake wakes at most one sleeper.
func (w *Wchan_t) Wake() {
	w.cond.Signal()
}

/// WakeAll wakes every sleeper.
func (w *Wchan_t) WakeAll() {
	w.cond.Broadcast()
}

/// Sema_t is a non-negative counting semaphore with no fairness
/// guarantee: a just-woken waiter may lose to a fresh arrival, per
/// spec. Backed by golang.org/x/sync/semaphore so the blocking
/// acquire/release goes through a real weighted semaphore rather than
/// a hand-rolled count+condvar pair.
type Sema_t struct {
	sem *semaphore.Weighted
}

/// MkSema returns an unbounded-capacity semaphore starting at count 0.
func MkSema() *Sema_t {
	w := semaphore.NewWeighted(1 << 30)
	// Hold every unit up front so the count starts at 0: P blocks until
	// a V releases a unit.
	w.TryAcquire(1 << 30)
	return &Sema_t{sem: w}
}

/// P decrements the semaphore, blocking while the count is zero.
func (s *Sema_t) P() {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		panic("sema P: " + err.Error())
	}
}

/// V increments the semaphore, waking one waiter.
func (s *Sema_t) V() {
	s.sem.Release(1)
}

/// Mutex_t is a blocking mutex with an explicit holder identity.
/// Re-entrant Acquire by the current holder is forbidden: the teacher's
/// source silently no-ops a recursive acquire, which the REDESIGN FLAG
/// calls out as a latent double-release bug. This implementation
/// panics instead of papering over it.
type Mutex_t struct {
	spin   Spinlock_t
	wchan  *Wchan_t
	holder defs.Tid_t // 0 == unheld
}

/// MkMutex returns an unheld mutex.
func MkMutex() *Mutex_t {
	m := &Mutex_t{}
	m.wchan = MkWchan(&m.spin)
	return m
}

/// Acquire blocks until the mutex is free, then takes it on behalf of
/// self. Panics if self already holds the mutex.
func (m *Mutex_t) Acquire(self *tinfo.Thread_t) {
	m.spin.Lock()
	defer m.spin.Unlock()
	if m.holder == self.Tid && m.holder != 0 {
		panic("lock.Mutex_t: recursive acquire by holder")
	}
	for m.holder != 0 {
		m.wchan.Sleep()
	}
	m.holder = self.Tid
}

/// Release gives up the mutex. The caller must be the current holder.
func (m *Mutex_t) Release(self *tinfo.Thread_t) {
	m.spin.Lock()
	defer m.spin.Unlock()
	if m.holder != self.Tid {
		panic("lock.Mutex_t: release by non-holder")
	}
	m.holder = 0
	m.wchan.Wake()
}

/// IHold reports whether self currently holds the mutex.
func (m *Mutex_t) IHold(self *tinfo.Thread_t) bool {
	m.spin.Lock()
	defer m.spin.Unlock()
	return m.holder == self.Tid && m.holder != 0
}

/// Cond_t is a condition variable tied to a caller-supplied mutex.
type Cond_t struct {
	m     *Mutex_t
	spin  Spinlock_t
	wchan *Wchan_t
}

/// MkCond ties a fresh condition variable to m.
func MkCond(m *Mutex_t) *Cond_t {
	c := &Cond_t{m: m}
	c.wchan = MkWchan(&c.spin)
	return c
}

/// Wait requires self holds c's mutex. It atomically releases the
/// mutex and sleeps, reacquiring the mutex before returning.
func (c *Cond_t) Wait(self *tinfo.Thread_t) {
	if !c.m.IHold(self) {
		panic("lock.Cond_t: Wait without holding the mutex")
	}
	c.spin.Lock()
	c.m.Release(self)
	c.wchan.Sleep()
	c.spin.Unlock()
	c.m.Acquire(self)
}

/// Signal wakes one waiter. The caller must hold c's mutex.
func (c *Cond_t) Signal(self *tinfo.Thread_t) {
	if !c.m.IHold(self) {
		panic("lock.Cond_t: Signal without holding the mutex")
	}
	c.spin.Lock()
	c.wchan.Wake()
	c.spin.Unlock()
}

/// Broadcast wakes every waiter. The caller must hold c's mutex.
func (c *Cond_t) Broadcast(self *tinfo.Thread_t) {
	if !c.m.IHold(self) {
		panic("lock.Cond_t: Broadcast without holding the mutex")
	}
	c.spin.Lock()
	c.wchan.WakeAll()
	c.spin.Unlock()
}

/// RWLock_t is a writer-preferring reader/writer lock: a waiting
/// writer blocks new readers from acquiring, so writers cannot starve
/// under a steady stream of readers.
type RWLock_t struct {
	spin     Spinlock_t
	readerCh *Wchan_t
	writerCh *Wchan_t
	nreaders int
	nwriters int // held + waiting
	writer   defs.Tid_t
}

/// MkRWLock returns an idle reader/writer lock.
func MkRWLock() *RWLock_t {
	l := &RWLock_t{}
	l.readerCh = MkWchan(&l.spin)
	l.writerCh = MkWchan(&l.spin)
	return l
}

/// AcquireRead blocks while a writer holds or is waiting for the lock,
/// then registers self as a reader.
func (l *RWLock_t) AcquireRead() {
	l.spin.Lock()
	defer l.spin.Unlock()
	for l.nwriters > 0 {
		l.readerCh.Sleep()
	}
	l.nreaders++
}

/// ReleaseRead unregisters self as a reader, waking one waiting writer
/// if this was the last reader.
func (l *RWLock_t) ReleaseRead() {
	l.spin.Lock()
	defer l.spin.Unlock()
	l.nreaders--
	if l.nreaders == 0 {
		l.writerCh.Wake()
	}
}

/// AcquireWrite counts self as a waiting writer (so new readers queue
/// behind it), blocks while another writer holds the lock or any reader
/// holds it, then takes it on behalf of self.
func (l *RWLock_t) AcquireWrite(self *tinfo.Thread_t) {
	l.spin.Lock()
	defer l.spin.Unlock()
	l.nwriters++
	for l.writer != 0 || l.nreaders > 0 {
		l.writerCh.Sleep()
	}
	l.writer = self.Tid
}

/// ReleaseWrite gives up the write lock. If another writer is waiting
/// it is woken; otherwise every waiting reader is woken.
func (l *RWLock_t) ReleaseWrite() {
	l.spin.Lock()
	defer l.spin.Unlock()
	l.writer = 0
	l.nwriters--
	if l.nwriters > 0 {
		l.writerCh.Wake()
	} else {
		l.readerCh.WakeAll()
	}
}
