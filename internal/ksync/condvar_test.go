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

type CondVarSuite struct {
	suite.Suite
	sched *thread.Scheduler
	m     *metrics.Registry
}

func (s *CondVarSuite) SetupTest() {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	s.m = metrics.NewRegistry()
	s.sched = thread.NewScheduler(cfg.SchedulerConfig{Mode: cfg.SchedulerPriority, TimerFreqHz: 100}, clk, s.m)
	s.sched.Start()
}

func (s *CondVarSuite) TestWaitRequiresHeldLock() {
	lock := NewLock(s.sched, false, s.m)
	cv := NewCondVar(s.sched)
	s.Panics(func() { cv.Wait(lock) })
}

func (s *CondVarSuite) TestSignalWakesOneWaiter() {
	lock := NewLock(s.sched, false, s.m)
	cv := NewCondVar(s.sched)
	woke := false

	s.sched.Create("waiter", thread.PriDefault, func() {
		lock.Acquire()
		cv.Wait(lock)
		woke = true
		lock.Release()
	})
	s.sched.Yield()
	s.False(woke)

	lock.Acquire()
	cv.Signal(lock)
	lock.Release()
	s.sched.Yield()

	s.True(woke)
}

func (s *CondVarSuite) TestBroadcastWakesAllWaiters() {
	lock := NewLock(s.sched, false, s.m)
	cv := NewCondVar(s.sched)
	woken := 0

	for i := 0; i < 3; i++ {
		s.sched.Create("waiter", thread.PriDefault, func() {
			lock.Acquire()
			cv.Wait(lock)
			woken++
			lock.Release()
		})
		s.sched.Yield()
	}

	lock.Acquire()
	cv.Broadcast(lock)
	lock.Release()
	s.sched.Yield()
	s.sched.Yield()
	s.sched.Yield()

	s.Equal(3, woken)
}

func TestCondVarSuite(t *testing.T) {
	suite.Run(t, new(CondVarSuite))
}
