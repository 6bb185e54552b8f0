package ksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/eduos-project/eduos/cfg"
	"github.com/eduos-project/eduos/clock"
	"github.com/eduos-project/eduos/internal/metrics"
	"github.com/eduos-project/eduos/internal/thread"
)

type LockSuite struct {
	suite.Suite
	sched *thread.Scheduler
	m     *metrics.Registry
}

func (s *LockSuite) SetupTest() {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	s.m = metrics.NewRegistry()
	s.sched = thread.NewScheduler(cfg.SchedulerConfig{Mode: cfg.SchedulerPriority, TimerFreqHz: 100}, clk, s.m)
	s.sched.Start()
}

func (s *LockSuite) TestAcquireReleaseRoundTrip() {
	lock := NewLock(s.sched, false, s.m)
	lock.Acquire()
	s.True(lock.HeldByCurrent())
	lock.Release()
	s.False(lock.HeldByCurrent())
}

func (s *LockSuite) TestTryAcquireFailsWhenHeld() {
	lock := NewLock(s.sched, false, s.m)
	gate := NewSemaphore(s.sched, 0)
	held := false

	s.sched.Create("holder", thread.PriDefault, func() {
		lock.Acquire()
		held = true
		gate.Down()
		lock.Release()
	})
	s.sched.Yield()
	s.Require().True(held)

	s.False(lock.TryAcquire())
	gate.Up()
	s.sched.Yield()
}

// A low-priority holder is raised to a blocked high-priority waiter's
// level for as long as it holds the lock, then reverts on release
// (P2: priority donation).
func (s *LockSuite) TestDonationRaisesHolderPriority() {
	lock := NewLock(s.sched, false, s.m)
	gate := NewSemaphore(s.sched, 0)
	var lowPriorityWhileHolding int

	s.sched.Create("low", thread.PriDefault-10, func() {
		lock.Acquire()
		gate.Down()
		lowPriorityWhileHolding = s.sched.CurrentThread().Priority
		lock.Release()
	})
	s.sched.Yield()

	s.sched.Create("high", thread.PriDefault+10, func() {
		lock.Acquire()
		lock.Release()
	})
	s.sched.Yield()

	gate.Up()
	s.sched.Yield()

	s.Equal(thread.PriDefault+10, lowPriorityWhileHolding, "holder should have been donated the waiter's priority")
}

func TestLockSuite(t *testing.T) {
	suite.Run(t, new(LockSuite))
}
