package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/eduos-project/eduos/cfg"
	"github.com/eduos-project/eduos/clock"
	"github.com/eduos-project/eduos/internal/metrics"
)

type SchedulerSuite struct {
	suite.Suite
	sched *Scheduler
}

func (s *SchedulerSuite) SetupTest() {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	s.sched = NewScheduler(cfg.SchedulerConfig{Mode: cfg.SchedulerPriority, TimerFreqHz: 100}, clk, metrics.NewRegistry())
	s.sched.Start()
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

// Create only adds the new thread to the ready set; the bootstrap
// caller (standing in for the idle thread, which has no real
// goroutine of its own) must explicitly Yield to hand off the CPU
// before the new thread actually runs.
func (s *SchedulerSuite) TestCreateThenYieldRunsThread() {
	ran := false
	s.sched.Create("worker", PriDefault, func() {
		ran = true
	})
	s.Assert().False(ran, "worker should not run before the caller yields")

	s.sched.Yield()
	s.Assert().True(ran)
}

// Among several ready threads of distinct priorities, the scheduler
// must run the highest-priority one first (P1).
func (s *SchedulerSuite) TestReadySetOrdersByPriorityDescending() {
	var order []int

	s.sched.Create("low", PriDefault-10, func() { order = append(order, PriDefault-10) })
	s.sched.Create("high", PriDefault+10, func() { order = append(order, PriDefault+10) })

	s.sched.Atomic(func() {
		p, ok := s.sched.ReadyHeadPriorityUnsafe()
		s.Require().True(ok)
		s.Equal(PriDefault+10, p)
	})

	s.sched.Yield()
	s.Equal([]int{PriDefault + 10, PriDefault - 10}, order)
}

func (s *SchedulerSuite) TestSleepAndWakeSleepers() {
	woke := make(chan struct{})
	s.sched.Create("sleeper", PriDefault, func() {
		s.sched.Sleep(5)
		close(woke)
	})
	s.sched.Yield()

	s.sched.Atomic(func() { s.sched.tickCount = 5 })
	s.sched.WakeSleepers()
	s.sched.Yield()
	<-woke
}
