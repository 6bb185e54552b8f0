// Package ksync implements the kernel's synchronization primitives —
// counting semaphore, lock with nested priority donation, and
// condition variable — built directly on internal/thread's Scheduler,
// the same L1-then-L2 layering the system overview lays out.
package ksync

import (
	"sort"

	"github.com/eduos-project/eduos/internal/logger"
	"github.com/eduos-project/eduos/internal/thread"
)

// Semaphore is a nonnegative counter plus a priority-ordered waiter
// queue, guarded by the scheduler's own lock so enqueue/block and
// dequeue/unblock are each atomic with the counter update.
type Semaphore struct {
	sched   *thread.Scheduler
	value   int
	waiters []*thread.Thread
}

// NewSemaphore constructs a Semaphore with the given initial value.
func NewSemaphore(sched *thread.Scheduler, value int) *Semaphore {
	return &Semaphore{sched: sched, value: value}
}

func insertWaiterSorted(waiters []*thread.Thread, t *thread.Thread) []*thread.Thread {
	idx := sort.Search(len(waiters), func(i int) bool {
		return waiters[i].Priority < t.Priority
	})
	waiters = append(waiters, nil)
	copy(waiters[idx+1:], waiters[idx:])
	waiters[idx] = t
	return waiters
}

// Down waits for the counter to become positive and then decrements
// it, blocking the caller (with itself enqueued in priority order) for
// as long as the counter is zero.
func (s *Semaphore) Down() {
	var blocked *thread.Thread
	s.sched.Atomic(func() {
		if s.value > 0 {
			s.value--
			return
		}
		cur := s.sched.CurrentUnsafe()
		s.waiters = insertWaiterSorted(s.waiters, cur)
		blocked = s.sched.BlockCurrentUnsafe()
	})
	if blocked == nil {
		return
	}
	s.sched.AwaitTurn(blocked)
	// Mesa-style recheck: re-enter the critical section and evaluate
	// the counter again rather than assuming Up() already credited us.
	s.Down()
}

// TryDown decrements the counter and returns true iff it was already
// positive; it never blocks.
func (s *Semaphore) TryDown() bool {
	ok := false
	s.sched.Atomic(func() {
		if s.value > 0 {
			s.value--
			ok = true
		}
	})
	return ok
}

// Up increments the counter and, if a waiter is queued, re-sorts the
// waiter list (a donor's priority may have shifted since it queued)
// and wakes the highest-priority one. If the woken thread now
// outranks the caller, the caller yields.
func (s *Semaphore) Up() {
	var woken *thread.Thread
	s.sched.Atomic(func() {
		s.value++
		if len(s.waiters) == 0 {
			return
		}
		sort.SliceStable(s.waiters, func(i, j int) bool {
			return s.waiters[i].Priority > s.waiters[j].Priority
		})
		woken = s.waiters[0]
		s.waiters = s.waiters[1:]
		s.sched.UnblockUnsafe(woken)
	})
	if woken == nil {
		return
	}
	cur := s.sched.CurrentThread()
	if cur != nil && woken.Priority > cur.Priority {
		logger.Tracef("ksync: semaphore up yields to tid=%d (priority %d > %d)", woken.TID, woken.Priority, cur.Priority)
		s.sched.Yield()
	}
}
