// Package metrics exposes the kernel's counters through a
// prometheus.Registry, constructed once at boot and threaded through
// every subsystem constructor — the same "pass the collaborator in"
// shape the teacher uses for its own ServerConfig-provided collaborators.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every counter a kernel subsystem increments. Nothing
// outside this package constructs a prometheus.Counter directly, so
// the full metric surface is visible here in one place.
type Registry struct {
	reg *prometheus.Registry

	IdleTicks   prometheus.Counter
	KernelTicks prometheus.Counter
	UserTicks   prometheus.Counter

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	FrameEvictions prometheus.Counter
	SwapIns        prometheus.Counter
	SwapOuts       prometheus.Counter

	Donations prometheus.Counter
}

// NewRegistry constructs and registers every kernel counter.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eduos",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}

	return &Registry{
		reg:            reg,
		IdleTicks:      newCounter("idle_ticks_total", "Timer ticks spent in the idle thread."),
		KernelTicks:    newCounter("kernel_ticks_total", "Timer ticks spent in kernel threads."),
		UserTicks:      newCounter("user_ticks_total", "Timer ticks spent in threads with a user address space."),
		CacheHits:      newCounter("cache_hits_total", "Block cache get() calls served without a fetch."),
		CacheMisses:    newCounter("cache_misses_total", "Block cache get() calls that required a fetch."),
		CacheEvictions: newCounter("cache_evictions_total", "Block cache entries evicted to make room."),
		FrameEvictions: newCounter("frame_evictions_total", "Frame table evictions performed to satisfy an allocation."),
		SwapIns:        newCounter("swap_ins_total", "Pages read back in from the swap device."),
		SwapOuts:       newCounter("swap_outs_total", "Pages written out to the swap device."),
		Donations:      newCounter("donations_total", "Priority donations performed by lock_acquire."),
	}
}

// Gatherer exposes the underlying registry for an HTTP metrics
// endpoint or a test assertion, without letting callers register their
// own collectors into it.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
