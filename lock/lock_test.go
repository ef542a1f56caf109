package lock

import (
	"sync"
	"testing"
	"time"

	"tinfo"
)

func TestMutexMutualExclusion(t *testing.T) {
	m := MkMutex()
	ti := tinfo.MkThreadinfo()
	a := ti.New()
	b := ti.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		self := a
		if i == 1 {
			self = b
		}
		wg.Add(1)
		go func(self *tinfo.Thread_t) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Acquire(self)
				counter++
				m.Release(self)
			}
		}(self)
	}
	wg.Wait()
	if counter != 2000 {
		t.Fatalf("counter = %d, want 2000", counter)
	}
}

func TestMutexRecursiveAcquirePanics(t *testing.T) {
	m := MkMutex()
	ti := tinfo.MkThreadinfo()
	self := ti.New()
	m.Acquire(self)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic on recursive acquire")
		}
	}()
	m.Acquire(self)
}

func TestMutexReleaseByNonHolderPanics(t *testing.T) {
	m := MkMutex()
	ti := tinfo.MkThreadinfo()
	a := ti.New()
	b := ti.New()
	m.Acquire(a)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic releasing a mutex held by someone else")
		}
	}()
	m.Release(b)
}

func TestSemaBlocksUntilV(t *testing.T) {
	s := MkSema()
	done := make(chan bool, 1)
	go func() {
		s.P()
		done <- true
	}()
	select {
	case <-done:
		t.Fatal("P returned before any V")
	case <-time.After(50 * time.Millisecond):
	}
	s.V()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("P never returned after V")
	}
}

func TestRWLockWriterPreference(t *testing.T) {
	l := MkRWLock()
	ti := tinfo.MkThreadinfo()
	writer := ti.New()

	l.AcquireRead()

	writerDone := make(chan bool, 1)
	go func() {
		l.AcquireWrite(writer)
		writerDone <- true
		l.ReleaseWrite()
	}()
	time.Sleep(20 * time.Millisecond)

	readerBlocked := make(chan bool, 1)
	go func() {
		l.AcquireRead()
		readerBlocked <- true
		l.ReleaseRead()
	}()

	select {
	case <-readerBlocked:
		t.Fatal("a second reader must not cut in front of a waiting writer")
	case <-time.After(50 * time.Millisecond):
	}

	l.ReleaseRead()

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock")
	}

	select {
	case <-readerBlocked:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired the lock after the writer released")
	}
}

func TestCondWaitRequiresHolder(t *testing.T) {
	m := MkMutex()
	c := MkCond(m)
	ti := tinfo.MkThreadinfo()
	self := ti.New()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic calling Wait without holding the mutex")
		}
	}()
	c.Wait(self)
}

func TestCondSignalWakesWaiter(t *testing.T) {
	m := MkMutex()
	c := MkCond(m)
	ti := tinfo.MkThreadinfo()
	waiter := ti.New()
	signaler := ti.New()

	ready := make(chan bool, 1)
	woke := make(chan bool, 1)
	go func() {
		m.Acquire(waiter)
		ready <- true
		c.Wait(waiter)
		woke <- true
		m.Release(waiter)
	}()

	<-ready
	time.Sleep(20 * time.Millisecond)
	m.Acquire(signaler)
	c.Signal(signaler)
	m.Release(signaler)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up after Signal")
	}
}
