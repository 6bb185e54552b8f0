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

type SemaphoreSuite struct {
	suite.Suite
	sched *thread.Scheduler
}

func (s *SemaphoreSuite) SetupTest() {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	s.sched = thread.NewScheduler(cfg.SchedulerConfig{Mode: cfg.SchedulerPriority, TimerFreqHz: 100}, clk, metrics.NewRegistry())
	s.sched.Start()
}

func (s *SemaphoreSuite) TestTryDownNeverBlocks() {
	sem := NewSemaphore(s.sched, 1)
	s.True(sem.TryDown())
	s.False(sem.TryDown())
}

func (s *SemaphoreSuite) TestDownBlocksUntilUp() {
	sem := NewSemaphore(s.sched, 0)
	acquired := false

	s.sched.Create("waiter", thread.PriDefault, func() {
		sem.Down()
		acquired = true
	})
	s.sched.Yield()
	s.False(acquired, "waiter should still be blocked on a zero-valued semaphore")

	sem.Up()
	s.sched.Yield()
	s.True(acquired)
}

// The highest-priority waiter is woken first, regardless of queue
// order (P1: priority scheduling governs wakeup order too).
func (s *SemaphoreSuite) TestUpWakesHighestPriorityWaiterFirst() {
	sem := NewSemaphore(s.sched, 0)
	var order []int

	s.sched.Create("low", thread.PriDefault-5, func() {
		sem.Down()
		order = append(order, thread.PriDefault-5)
	})
	s.sched.Yield()
	s.sched.Create("high", thread.PriDefault+5, func() {
		sem.Down()
		order = append(order, thread.PriDefault+5)
	})
	s.sched.Yield()

	sem.Up()
	s.sched.Yield()
	sem.Up()
	s.sched.Yield()

	s.Require().Len(order, 2)
	s.Equal(thread.PriDefault+5, order[0])
	s.Equal(thread.PriDefault-5, order[1])
}

func TestSemaphoreSuite(t *testing.T) {
	suite.Run(t, new(SemaphoreSuite))
}
