// Package kernel wires together the scheduler, synchronization
// primitives, virtual memory, and filesystem packages into one
// bootable unit, the same role fs.NewServer plays for the teacher's
// mount: every subsystem is constructed once at Boot and handed to
// whatever needs it as a constructor argument.
package kernel

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/eduos-project/eduos/cfg"
	"github.com/eduos-project/eduos/clock"
	"github.com/eduos-project/eduos/internal/fs"
	"github.com/eduos-project/eduos/internal/fsdisk"
	"github.com/eduos-project/eduos/internal/logger"
	"github.com/eduos-project/eduos/internal/metrics"
	"github.com/eduos-project/eduos/internal/process"
	"github.com/eduos-project/eduos/internal/thread"
	"github.com/eduos-project/eduos/internal/vm"
)

// Kernel bundles one booted instance's subsystems.
type Kernel struct {
	Config    cfg.Config
	Clock     clock.Clock
	Metrics   *metrics.Registry
	Scheduler *thread.Scheduler
	Disk      *fsdisk.Disk
	SwapDisk  *fsdisk.Disk
	FS        *fs.FileSystem
	Frames    *vm.FrameTable
	Swap      *vm.Swap

	processes map[int]*process.Process
}

// Boot formats a fresh disk image and constructs every subsystem,
// starting the scheduler's idle thread. It mirrors the teacher's
// sequence of constructing dependencies bottom-up before serving any
// request.
func Boot(c cfg.Config) (*Kernel, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("kernel: invalid config: %w", err)
	}

	clk := clock.RealClock{}
	m := metrics.NewRegistry()
	sched := thread.NewScheduler(c.Scheduler, clk, m)
	sched.Start()

	disk := fsdisk.New(c.Disk.Sectors, c.Disk.IOPSLimit)
	swapDisk := fsdisk.New(c.Disk.SwapSectors, c.Disk.IOPSLimit)

	filesystem, err := fs.Format(disk, clk, c.Cache.Capacity, m)
	if err != nil {
		return nil, fmt.Errorf("kernel: formatting filesystem: %w", err)
	}

	swap := vm.NewSwap(swapDisk, c.Disk.SwapSectors, m)
	frames := vm.NewFrameTable(c.VM.FrameCount, swap, m)

	logger.Infof("kernel: booted (scheduler=%s frames=%d cache=%d)", c.Scheduler.Mode, c.VM.FrameCount, c.Cache.Capacity)

	return &Kernel{
		Config:    c,
		Clock:     clk,
		Metrics:   m,
		Scheduler: sched,
		Disk:      disk,
		SwapDisk:  swapDisk,
		FS:        filesystem,
		Frames:    frames,
		Swap:      swap,
		processes: make(map[int]*process.Process),
	}, nil
}

// Shutdown flushes the cache's dirty entries to disk (per P10) and
// tears down every process still running at the time of shutdown,
// concurrently: neither depends on the other's completion, and a
// kernel with hundreds of orphaned processes shouldn't make the cache
// flush wait its turn behind them.
func (k *Kernel) Shutdown() {
	var g errgroup.Group
	g.Go(func() error {
		k.FS.Shutdown()
		return nil
	})
	for _, proc := range k.processes {
		if proc.Exited {
			continue
		}
		proc := proc
		g.Go(func() error {
			proc.TeardownForShutdown()
			return nil
		})
	}
	g.Wait()
	logger.Infof("kernel: shutdown complete")
}

// Spawn creates a kernel thread running fn, wraps it in a Process with
// a fresh address space rooted at the filesystem root, and registers
// it as a child of parent (nil for the first/root process).
func (k *Kernel) Spawn(name string, priority int, parent *process.Process, fn func(*process.Process)) (*process.Process, error) {
	root, err := k.FS.OpenRoot()
	if err != nil {
		return nil, fmt.Errorf("kernel: opening root for new process: %w", err)
	}
	as := &vm.AddressSpace{
		SPT:    vm.NewSPT(),
		PTE:    vm.NewSimplePTE(),
		Frames: k.Frames,
		Swap:   k.Swap,
	}

	// proc must exist before Create returns: if the caller is itself a
	// running thread lower-priority than priority, Create yields to the
	// new thread synchronously, and fn would otherwise see a nil proc.
	proc := process.New(nil, as, root, name, k.Scheduler, parent)
	t := k.Scheduler.Create(name, priority, func() {
		fn(proc)
	})
	t.UserSpace = as
	proc.Thread = t
	k.processes[t.TID] = proc
	if parent != nil {
		parent.Spawn(t.TID)
	}
	return proc, nil
}

// Process looks up a running or exited-but-not-yet-reaped process by
// thread id.
func (k *Kernel) Process(tid int) (*process.Process, bool) {
	p, ok := k.processes[tid]
	return p, ok
}
