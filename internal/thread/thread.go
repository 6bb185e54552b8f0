package thread

import "fmt"

// Status is one of the four states a Thread may occupy. A thread is
// never concurrently a member of two of the scheduler's waiter sets;
// status and wait-queue membership change together under the
// scheduler's lock.
type Status int

const (
	StatusRunning Status = iota
	StatusReady
	StatusBlocked
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	case StatusDying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

const (
	PriMin     = 0
	PriMax     = 63
	PriDefault = 31

	NiceMin     = -20
	NiceMax     = 20
	NiceDefault = 0

	// magic is written into every Thread at creation and checked by
	// AssertSane; its only purpose is to catch a caller that has
	// corrupted a Thread value (the Go analogue of the original
	// kernel's stack-overflow sentinel, since Go threads don't share a
	// hand-rolled stack with their control block).
	magic = 0xcd6abf4b
)

// Donee is the minimal shape of something a Thread can be blocked on.
// ksync.Lock implements it; keeping the interface here (rather than
// importing ksync, which depends on thread) keeps the scheduler the
// leaf dependency the rest of the kernel builds on, per the package's
// layering.
type Donee interface {
	HolderTID() int
}

// Thread is a kernel execution context. Most fields are only ever
// touched by the Scheduler's goroutine or under its lock; Fn runs on
// its own goroutine and communicates status changes back through
// Scheduler methods (Block, Yield, Exit), never by mutating its own
// Thread value directly while another goroutine might also be
// scheduling it.
type Thread struct {
	TID    int
	Name   string
	Status Status

	// BasePriority is the priority set explicitly by the thread (or at
	// creation); Priority is the effective priority, raised above
	// BasePriority by donation. In MLFQS mode Priority is recomputed
	// every four ticks and BasePriority is unused.
	BasePriority int
	Priority     int

	// Nice and RecentCPU are maintained only in MLFQS mode.
	Nice      int
	RecentCPU Fixed

	// WakeTime is the absolute tick at which a sleeping thread should be
	// unblocked; zero when the thread is not sleeping.
	WakeTime uint64

	// LockedBy is the lock this thread is currently blocked acquiring,
	// or nil. Donors is the set of threads that have donated their
	// priority to this thread because they are blocked on a lock it
	// holds.
	LockedBy Donee
	Donors   []*Thread

	// UserSpace, Files, Cwd and Parent/Child are opaque handles owned by
	// the process layer; the scheduler never interprets them.
	UserSpace any
	Files     any
	Cwd       any
	Parent    *Thread
	ChildRec  any

	Fn  func()
	aux any

	magic uint32
}

// newThread allocates and zero-initializes a Thread the way the
// original kernel's init_thread does: blocked, stamped with the
// sentinel, priority fields set from the scheduling mode.
func newThread(tid int, name string, priority int, fn func()) *Thread {
	t := &Thread{
		TID:          tid,
		Name:         name,
		Status:       StatusBlocked,
		BasePriority: priority,
		Priority:     priority,
		Fn:           fn,
		magic:        magic,
	}
	return t
}

// AssertSane panics if t's sentinel has been clobbered, mirroring
// is_thread()'s use as a cheap corruption check before trusting a
// Thread pointer.
func (t *Thread) AssertSane() {
	if t == nil || t.magic != magic {
		panic(fmt.Sprintf("thread: corrupted thread control block: %+v", t))
	}
}

// EffectivePriority returns the priority the scheduler orders this
// thread by: its own Priority field, which donation keeps at
// max(BasePriority, best donor).
func (t *Thread) EffectivePriority() int { return t.Priority }
