package ksync

import (
	"fmt"

	"github.com/eduos-project/eduos/internal/metrics"
	"github.com/eduos-project/eduos/internal/thread"
)

// maxDonationDepth bounds the "holder of the lock I am blocked on"
// chain walk in Acquire/TryAcquire, per the donation-chain cap in
// spec §5 and §7 ("Donation-chain traversal silently stops at depth
// 8").
const maxDonationDepth = 8

// Lock is a binary semaphore with a current-holder pointer and
// (outside MLFQS mode) nested priority donation. Locks are
// non-recursive: the holder must not call Acquire on a lock it
// already holds.
type Lock struct {
	sched     *thread.Scheduler
	sema      *Semaphore
	mlfqs     bool
	metrics   *metrics.Registry
	holderTID int // 0 means unheld
}

// NewLock constructs an unheld Lock. mlfqs disables donation, per
// spec §4.1 ("Donation is disabled in MLFQ mode").
func NewLock(sched *thread.Scheduler, mlfqs bool, m *metrics.Registry) *Lock {
	return &Lock{
		sched:   sched,
		sema:    NewSemaphore(sched, 1),
		mlfqs:   mlfqs,
		metrics: m,
	}
}

// HolderTID implements thread.Donee so a Thread can record this Lock
// as the thing it is blocked on without the thread package importing
// ksync.
func (l *Lock) HolderTID() int {
	var tid int
	l.sched.Atomic(func() { tid = l.holderTID })
	return tid
}

// donate walks the "locked-by" chain starting at the caller, raising
// each traversed holder's effective priority to the caller's,
// stopping after maxDonationDepth hops or at the first holder whose
// priority already dominates. Must be called from inside an Atomic
// callback.
func (l *Lock) donate(caller *thread.Thread) {
	depth := 0
	cur := caller
	for cur.LockedBy != nil && depth < maxDonationDepth {
		lk, ok := cur.LockedBy.(*Lock)
		if !ok || lk.holderTID == 0 {
			break
		}
		holder := l.sched.ThreadByTID(lk.holderTID)
		if holder == nil || holder.Priority >= cur.Priority {
			break
		}
		holder.Priority = cur.Priority
		cur = holder
		depth++
	}
	if l.metrics != nil {
		l.metrics.Donations.Inc()
	}
}

// Acquire blocks until the lock is free, then claims it. If another
// thread holds the lock and donation is enabled, the caller first
// records itself as blocked on this lock, registers as a donor of the
// holder, and walks the donation chain.
func (l *Lock) Acquire() {
	var caller *thread.Thread
	l.sched.Atomic(func() {
		caller = l.sched.CurrentUnsafe()
		if caller.TID == l.holderTID {
			panic(fmt.Sprintf("ksync: thread %d re-acquiring a lock it already holds", caller.TID))
		}
		if l.holderTID == 0 || l.mlfqs {
			return
		}
		caller.LockedBy = l
		holder := l.sched.ThreadByTID(l.holderTID)
		if holder != nil {
			holder.Donors = append(holder.Donors, caller)
		}
		l.donate(caller)
	})

	l.sema.Down()

	l.sched.Atomic(func() {
		caller := l.sched.CurrentUnsafe()
		l.holderTID = caller.TID
		caller.LockedBy = nil
	})
}

// TryAcquire claims the lock without blocking if it is free, donating
// along the chain (as Acquire does) if it is not. It returns whether
// the lock was claimed.
func (l *Lock) TryAcquire() bool {
	if l.sema.TryDown() {
		l.sched.Atomic(func() {
			l.holderTID = l.sched.CurrentUnsafe().TID
		})
		return true
	}

	if l.mlfqs {
		return false
	}
	l.sched.Atomic(func() {
		caller := l.sched.CurrentUnsafe()
		caller.LockedBy = l
		holder := l.sched.ThreadByTID(l.holderTID)
		if holder != nil {
			holder.Donors = append(holder.Donors, caller)
		}
		l.donate(caller)
	})
	return false
}

// Release frees the lock. Donors that were waiting specifically on
// this lock are dropped from the holder's donor list; the holder's
// effective priority then becomes max(base, best remaining donor), or
// reverts to base if none remain. If this lowers the holder below the
// new head of the ready set, it yields.
func (l *Lock) Release() {
	var caller *thread.Thread
	l.sched.Atomic(func() {
		caller = l.sched.CurrentUnsafe()
		if caller.TID != l.holderTID {
			panic(fmt.Sprintf("ksync: thread %d releasing a lock held by %d", caller.TID, l.holderTID))
		}
		l.holderTID = 0
	})
	l.sema.Up()

	if l.mlfqs {
		return
	}

	var yield bool
	l.sched.Atomic(func() {
		remaining := caller.Donors[:0]
		best := -1
		for _, donor := range caller.Donors {
			if lk, ok := donor.LockedBy.(*Lock); ok && lk == l {
				donor.LockedBy = nil
				continue
			}
			remaining = append(remaining, donor)
			if donor.Priority > best {
				best = donor.Priority
			}
		}
		caller.Donors = remaining

		if best > -1 && caller.BasePriority <= best {
			caller.Priority = best
		} else {
			caller.Priority = caller.BasePriority
		}

		if headPriority, ok := l.sched.ReadyHeadPriorityUnsafe(); ok && headPriority > caller.Priority {
			yield = true
		}
	})

	if yield {
		l.sched.Yield()
	}
}

// HeldByCurrent reports whether the calling thread currently holds the
// lock, mirroring lock_held_by_current_thread.
func (l *Lock) HeldByCurrent() bool {
	var held bool
	l.sched.Atomic(func() {
		held = l.sched.CurrentUnsafe().TID == l.holderTID
	})
	return held
}
