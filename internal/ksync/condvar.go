package ksync

import "github.com/eduos-project/eduos/internal/thread"

// CondVar is a Mesa-style condition variable: an ordered list of
// per-waiter semaphores, each associated with the priority of the
// thread that owns it. A given CondVar is used with exactly one Lock
// at a time, though one Lock may have many CondVars.
type CondVar struct {
	sched   *thread.Scheduler
	waiters []*waiterSema
}

type waiterSema struct {
	sema *Semaphore
	tid  int
}

// NewCondVar constructs an empty condition variable.
func NewCondVar(sched *thread.Scheduler) *CondVar {
	return &CondVar{sched: sched}
}

// Wait atomically releases lock and blocks the caller until Signal or
// Broadcast wakes it, then reacquires lock before returning. lock must
// be held by the caller.
func (c *CondVar) Wait(lock *Lock) {
	if !lock.HeldByCurrent() {
		panic("ksync: CondVar.Wait called without holding lock")
	}

	waiter := &waiterSema{sema: NewSemaphore(c.sched, 0)}
	c.sched.Atomic(func() {
		cur := c.sched.CurrentUnsafe()
		waiter.tid = cur.TID
		idx := 0
		for ; idx < len(c.waiters); idx++ {
			frontTID := c.waiters[idx].tid
			front := c.sched.ThreadByTID(frontTID)
			if front != nil && front.Priority < cur.Priority {
				break
			}
		}
		c.waiters = append(c.waiters, nil)
		copy(c.waiters[idx+1:], c.waiters[idx:])
		c.waiters[idx] = waiter
	})

	lock.Release()
	waiter.sema.Down()
	lock.Acquire()
}

// Signal wakes the highest-priority waiter, if any. lock must be held
// by the caller.
func (c *CondVar) Signal(lock *Lock) {
	if !lock.HeldByCurrent() {
		panic("ksync: CondVar.Signal called without holding lock")
	}
	var woken *waiterSema
	c.sched.Atomic(func() {
		if len(c.waiters) == 0 {
			return
		}
		woken = c.waiters[0]
		c.waiters = c.waiters[1:]
	})
	if woken != nil {
		woken.sema.Up()
	}
}

// Broadcast wakes every waiter, in priority order.
func (c *CondVar) Broadcast(lock *Lock) {
	for {
		var remaining int
		c.sched.Atomic(func() { remaining = len(c.waiters) })
		if remaining == 0 {
			return
		}
		c.Signal(lock)
	}
}
