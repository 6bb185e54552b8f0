package thread

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jacobsa/syncutil"

	"github.com/eduos-project/eduos/cfg"
	"github.com/eduos-project/eduos/clock"
	"github.com/eduos-project/eduos/internal/logger"
	"github.com/eduos-project/eduos/internal/metrics"
)

const timeSlice = 4 // ticks given to a thread before preemption is requested

// Scheduler is the kernel's single-CPU, priority-preemptive scheduler.
// It owns the ready set and the all-threads set, and is the only thing
// that may transition a Thread between Running/Ready/Blocked. Every
// method that touches those sets takes mu for its duration, the
// simulation's stand-in for "interrupts disabled": exactly the
// sections the original kernel brackets with intr_disable/
// intr_set_level.
//
// Thread bodies run on their own goroutine, parked on cond until the
// scheduler names them current; this gives single-CPU turn-taking
// semantics without pretending Go goroutines are literal hardware
// threads.
type Scheduler struct {
	mu   syncutil.InvariantMutex
	cond *sync.Cond

	clk         clock.Clock
	mode        string
	timerFreqHz int
	metrics     *metrics.Registry

	ready   []*Thread // INVARIANT: sorted by Priority descending, FIFO among equals (P1)
	all     []*Thread
	current *Thread
	idle    *Thread

	nextTID     int
	threadTicks int
	tickCount   uint64
	loadAvg     Fixed

	running bool
}

// NewScheduler constructs an un-started Scheduler. Call Start before
// creating any non-idle threads.
func NewScheduler(sc cfg.SchedulerConfig, clk clock.Clock, m *metrics.Registry) *Scheduler {
	s := &Scheduler{
		clk:         clk,
		mode:        sc.Mode,
		timerFreqHz: sc.TimerFreqHz,
		metrics:     m,
		nextTID:     1,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Scheduler) checkInvariants() {
	for i := 1; i < len(s.ready); i++ {
		if s.ready[i-1].Priority < s.ready[i].Priority {
			panic(fmt.Sprintf("thread: ready set out of order at %d: %d < %d", i, s.ready[i-1].Priority, s.ready[i].Priority))
		}
	}
	for _, t := range s.ready {
		if t.Status != StatusReady {
			panic(fmt.Sprintf("thread: %d in ready set with status %v", t.TID, t.Status))
		}
	}
}

// Start brings up the idle thread and begins accepting Create calls,
// mirroring thread_start()'s creation of the idle thread and the first
// call to intr_enable.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	idle := s.newThreadLocked("idle", PriMin, func() {})
	s.idle = idle
	s.current = idle
	idle.Status = StatusRunning
}

func (s *Scheduler) newThreadLocked(name string, priority int, fn func()) *Thread {
	tid := s.nextTID
	s.nextTID++
	t := newThread(tid, name, priority, fn)
	s.all = append(s.all, t)
	return t
}

// Create allocates a new thread, adds it to the ready set, and — if it
// now outranks a non-idle caller — yields the caller before returning, the
// same ordering thread_create enforces so a newly-created higher
// priority thread runs promptly.
func (s *Scheduler) Create(name string, priority int, fn func()) *Thread {
	s.mu.Lock()
	t := s.newThreadLocked(name, priority, fn)
	t.Status = StatusBlocked
	started := make(chan struct{})
	go s.runThread(t, started)
	<-started
	s.insertReadyLocked(t)
	cur := s.current
	s.mu.Unlock()

	logger.Debugf("thread: created %q (tid=%d, priority=%d)", name, t.TID, priority)
	if cur != nil && cur != s.idle && t.Priority > cur.Priority {
		s.Yield()
	}
	return t
}

// runThread is the body every non-idle thread goroutine executes: park
// until scheduled in, run Fn to completion, then exit.
func (s *Scheduler) runThread(t *Thread, started chan struct{}) {
	close(started)
	s.waitForTurn(t)
	if t.Fn != nil {
		t.Fn()
	}
	s.Exit()
}

// waitForTurn blocks the calling goroutine until the scheduler names t
// as current. Must be called without mu held.
func (s *Scheduler) waitForTurn(t *Thread) {
	s.mu.Lock()
	for s.current != t {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *Scheduler) insertReadyLocked(t *Thread) {
	t.Status = StatusReady
	idx := sort.Search(len(s.ready), func(i int) bool {
		return s.ready[i].Priority < t.Priority
	})
	s.ready = append(s.ready, nil)
	copy(s.ready[idx+1:], s.ready[idx:])
	s.ready[idx] = t
}

// nextThreadToRunLocked pops the highest-priority ready thread, or the
// idle thread if the ready set is empty, per next_thread_to_run.
func (s *Scheduler) nextThreadToRunLocked() *Thread {
	if len(s.ready) == 0 {
		return s.idle
	}
	t := s.ready[0]
	s.ready = s.ready[1:]
	return t
}

// scheduleLocked picks the next thread to run and hands it the baton.
// Must be called with mu held and s.current already transitioned out
// of StatusRunning.
func (s *Scheduler) scheduleLocked() {
	next := s.nextThreadToRunLocked()
	next.AssertSane()
	next.Status = StatusRunning
	s.current = next
	s.threadTicks = 0
	s.cond.Broadcast()
}

// Block descheduls the calling thread; it will not run again until
// some other thread calls Unblock on it. Must be called from the
// thread's own goroutine.
func (s *Scheduler) Block() {
	s.mu.Lock()
	cur := s.current
	cur.Status = StatusBlocked
	s.scheduleLocked()
	s.mu.Unlock()

	s.waitForTurn(cur)
}

// Unblock transitions t from Blocked to Ready and inserts it into the
// ready set; it does not itself yield the caller.
func (s *Scheduler) Unblock(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnblockUnsafe(t)
}

// Atomic runs f with the scheduler's lock held — the simulation's
// stand-in for "interrupts disabled" used by ksync's semaphore, lock
// and condvar to mutate their own waiter lists in the same critical
// section that also touches Thread status and the ready set, exactly
// as the original kernel's intr_disable spans both. f must not block
// the calling goroutine (use BlockCurrentUnsafe instead of parking
// directly) and must not call back into any other Scheduler method
// that itself takes the lock.
func (s *Scheduler) Atomic(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}

// CurrentUnsafe returns the running thread; callers must already hold
// the lock (i.e. be inside an Atomic callback).
func (s *Scheduler) CurrentUnsafe() *Thread { return s.current }

// UnblockUnsafe is Unblock without its own locking, for use inside an
// Atomic callback (e.g. sema_up waking a waiter it is about to pop
// from its own list in the same critical section).
func (s *Scheduler) UnblockUnsafe(t *Thread) {
	if t.Status != StatusBlocked {
		panic(fmt.Sprintf("thread: Unblock on non-blocked thread %d (%v)", t.TID, t.Status))
	}
	s.insertReadyLocked(t)
}

// BlockCurrentUnsafe transitions the running thread to Blocked and
// hands the CPU to the next ready thread. The caller must already
// hold the lock and must have already made the blocked thread
// discoverable to whatever will eventually call UnblockUnsafe on it
// (e.g. pushed it onto a semaphore's waiter list in the same Atomic
// callback). The caller must follow up with AwaitTurn once the lock
// is released.
func (s *Scheduler) BlockCurrentUnsafe() *Thread {
	cur := s.current
	cur.Status = StatusBlocked
	s.scheduleLocked()
	return cur
}

// AwaitTurn parks the calling goroutine until t is current again. It
// takes the lock itself and must be called without it held.
func (s *Scheduler) AwaitTurn(t *Thread) { s.waitForTurn(t) }

// ReadyHeadPriorityUnsafe returns the priority of the highest-priority
// ready thread, for use inside an Atomic callback that needs to decide
// whether a priority change should trigger a yield.
func (s *Scheduler) ReadyHeadPriorityUnsafe() (int, bool) {
	if len(s.ready) == 0 {
		return 0, false
	}
	return s.ready[0].Priority, true
}

// Yield puts the calling thread back on the ready set and gives the
// CPU to the highest-priority ready thread, possibly itself again.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	cur := s.current
	if cur != s.idle {
		s.insertReadyLocked(cur)
	} else {
		cur.Status = StatusReady
	}
	s.scheduleLocked()
	s.mu.Unlock()

	s.waitForTurn(cur)
}

// Exit removes the calling thread from the all-threads set and
// schedules a replacement; the calling goroutine returns immediately
// after (its stack, unlike the original kernel's, needs no explicit
// page to free).
func (s *Scheduler) Exit() {
	s.mu.Lock()
	cur := s.current
	cur.Status = StatusDying
	for i, t := range s.all {
		if t == cur {
			s.all = append(s.all[:i], s.all[i+1:]...)
			break
		}
	}
	s.scheduleLocked()
	s.mu.Unlock()
}

// CurrentThread returns the thread presently marked running.
func (s *Scheduler) CurrentThread() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ThreadByTID looks up a thread by id among all live threads. It does
// not take the lock: callers must already hold it (i.e. be inside an
// Atomic callback), which is where ksync's lock and condvar call it.
func (s *Scheduler) ThreadByTID(tid int) *Thread {
	for _, t := range s.all {
		if t.TID == tid {
			return t
		}
	}
	return nil
}

// SetPriority sets the calling thread's base priority. If the thread
// has no donors (or the new priority is a raise), the effective
// priority moves with it; otherwise only the base is lowered and the
// donated effective priority is retained until release, per
// thread_set_priority.
func (s *Scheduler) SetPriority(p int) {
	s.mu.Lock()
	cur := s.current
	if len(cur.Donors) == 0 || p > cur.Priority {
		cur.Priority = p
		cur.BasePriority = p
	} else {
		cur.BasePriority = p
	}
	yield := len(s.ready) > 0 && s.ready[0].Priority > cur.Priority
	s.mu.Unlock()

	if yield {
		s.Yield()
	}
}

// GetPriority returns the calling thread's effective priority.
func (s *Scheduler) GetPriority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Priority
}

func (s *Scheduler) recomputeMLFQPriorityLocked(t *Thread) {
	p := FromInt(PriMax).Sub(t.RecentCPU.DivN(4)).Sub(FromInt(t.Nice).MulN(2)).ToIntNearest()
	if p < PriMin {
		p = PriMin
	} else if p > PriMax {
		p = PriMax
	}
	t.Priority = p
}

// SetNice sets the calling thread's niceness and immediately
// recomputes its MLFQ priority, yielding if it no longer leads the
// ready set.
func (s *Scheduler) SetNice(n int) {
	s.mu.Lock()
	cur := s.current
	cur.Nice = n
	s.recomputeMLFQPriorityLocked(cur)
	yield := len(s.ready) > 0 && s.ready[0].Priority > cur.Priority
	s.mu.Unlock()

	if yield {
		s.Yield()
	}
}

// GetNice returns the calling thread's niceness.
func (s *Scheduler) GetNice() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Nice
}

// GetLoadAvg returns 100 times the system load average.
func (s *Scheduler) GetLoadAvg() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg.MulN(100).ToIntNearest()
}

// GetRecentCpu returns 100 times the calling thread's recent_cpu.
func (s *Scheduler) GetRecentCpu() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.RecentCPU.MulN(100).ToIntNearest()
}

// Tick is the timer-interrupt hook: it updates MLFQ bookkeeping (if
// enabled) and enforces the 4-tick preemption slice. It does not wake
// sleeping threads; WakeSleepers does that.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.tickCount++
	cur := s.current

	if cur == s.idle {
		s.metrics.IdleTicks.Inc()
	} else if isUserThread(cur) {
		s.metrics.UserTicks.Inc()
	} else {
		s.metrics.KernelTicks.Inc()
	}

	if s.mode == cfg.SchedulerMLFQS {
		s.tickMLFQLocked(cur)
	}

	s.threadTicks++
	preempt := s.threadTicks >= timeSlice
	s.mu.Unlock()

	if preempt {
		s.Yield()
	}
}

func isUserThread(t *Thread) bool { return t.UserSpace != nil }

func (s *Scheduler) tickMLFQLocked(cur *Thread) {
	if cur != s.idle {
		cur.RecentCPU = cur.RecentCPU.AddN(1)
	}

	onSecond := s.tickCount%uint64(s.timerFreqHz) == 0
	if onSecond {
		readyCount := len(s.ready)
		if cur != s.idle {
			readyCount++
		}
		s.loadAvg = DivInts(59, 60).Mul(s.loadAvg).Add(DivInts(1, 60).Mul(FromInt(readyCount)))
	}

	if onSecond || s.tickCount%4 == 0 {
		coeff := s.loadAvg.MulN(2).Div(s.loadAvg.MulN(2).AddN(1))
		for _, t := range s.all {
			if s.tickCount%4 == 0 {
				s.recomputeMLFQPriorityLocked(t)
			}
			if onSecond {
				t.RecentCPU = coeff.Mul(t.RecentCPU).AddN(t.Nice)
			}
		}
		// The ready set's order may have shifted if priorities changed.
		sort.SliceStable(s.ready, func(i, j int) bool { return s.ready[i].Priority > s.ready[j].Priority })
	}
}

// Sleep blocks the calling thread until tick wakeAt, the simulation's
// analogue of the timer device's sleep queue.
func (s *Scheduler) Sleep(wakeAt uint64) {
	s.mu.Lock()
	cur := s.current
	cur.WakeTime = wakeAt
	cur.Status = StatusBlocked
	s.scheduleLocked()
	s.mu.Unlock()

	s.waitForTurn(cur)
}

// WakeSleepers unblocks every sleeping thread whose WakeTime has
// arrived. Tick does not call it; it is a separate, explicitly-invoked
// step so tests can drive wakeups deterministically without waiting on
// the preemption path.
func (s *Scheduler) WakeSleepers() {
	s.mu.Lock()
	var toWake []*Thread
	for _, t := range s.all {
		if t.Status == StatusBlocked && t.WakeTime != 0 && t.WakeTime <= s.tickCount {
			t.WakeTime = 0
			toWake = append(toWake, t)
		}
	}
	s.mu.Unlock()

	for _, t := range toWake {
		s.Unblock(t)
	}
}
