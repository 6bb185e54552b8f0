package vm

import (
	"fmt"
	"sync"

	"github.com/eduos-project/eduos/internal/logger"
	"github.com/eduos-project/eduos/internal/metrics"
)

// frameEntry is one physical frame: the backing buffer plus enough of
// the owning process's state to evict it later — its PTE so the
// eviction policy can read the access/dirty bits, and the SPTE so
// eviction knows where to stash the contents.
type frameEntry struct {
	frame []byte
	pte   PTE
	vaddr uintptr
	spte  *SPTE
}

// FrameTable is the single pool of physical frames shared by every
// process, sized to Capacity and evicting under an enhanced
// second-chance policy when exhausted, mirroring frame.c.
type FrameTable struct {
	mu       sync.Mutex
	capacity int
	entries  []*frameEntry
	swap     *Swap
	metrics  *metrics.Registry
}

// NewFrameTable constructs a FrameTable holding at most capacity
// frames, evicting into swap once full.
func NewFrameTable(capacity int, swap *Swap, m *metrics.Registry) *FrameTable {
	return &FrameTable{capacity: capacity, swap: swap, metrics: m}
}

// Allocate returns a frame for (pte, vaddr, spte), zeroing it if
// requested, evicting the current victim if the table is at capacity.
func (ft *FrameTable) Allocate(pte PTE, vaddr uintptr, spte *SPTE, zero bool) []byte {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var frame []byte
	if len(ft.entries) < ft.capacity {
		frame = make([]byte, PageSize)
	} else {
		frame = ft.evictLocked()
	}
	if zero {
		for i := range frame {
			frame[i] = 0
		}
	}
	ft.entries = append(ft.entries, &frameEntry{frame: frame, pte: pte, vaddr: vaddr, spte: spte})
	return frame
}

// Free releases the frame backing vaddr in pte without writing it to
// swap, for use when a process exits or explicitly unmaps a page.
func (ft *FrameTable) Free(pte PTE, vaddr uintptr) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i, e := range ft.entries {
		if e.pte == pte && e.vaddr == vaddr {
			ft.entries = append(ft.entries[:i], ft.entries[i+1:]...)
			pte.Clear(vaddr)
			return
		}
	}
}

// bucket classifies a frame entry by (accessed, dirty) for the
// enhanced second-chance policy: not-accessed/not-dirty evicts first,
// accessed/dirty evicts last.
func bucket(e *frameEntry) int {
	a, d := e.pte.Accessed(e.vaddr), e.pte.Dirty(e.vaddr)
	switch {
	case !a && !d:
		return 0
	case !a && d:
		return 1
	case a && !d:
		return 2
	default:
		return 3
	}
}

// evictLocked picks a victim frame via enhanced second-chance and
// saves its contents: a dirty MMAP page is written back to its file, a
// dirty FILE page or any other page goes to swap (its SPTE reclassified
// as SWAPPED), and a clean FILE or MMAP page is simply dropped. It then
// clears the mapping and returns the buffer for reuse. ft.mu is held
// by the caller.
func (ft *FrameTable) evictLocked() []byte {
	if len(ft.entries) == 0 {
		panic("vm: evictLocked called on an empty frame table")
	}
	victimIdx, victimBucket := 0, 4
	for i, e := range ft.entries {
		b := bucket(e)
		if b < victimBucket {
			victimIdx, victimBucket = i, b
			if b == 0 {
				break
			}
		}
	}
	victim := ft.entries[victimIdx]
	ft.entries = append(ft.entries[:victimIdx], ft.entries[victimIdx+1:]...)

	dirty := victim.pte.Dirty(victim.vaddr)
	switch victim.spte.Kind {
	case KindMMap:
		if dirty {
			writeBackMMap(victim.spte, victim.frame)
		}
	case KindFile:
		if dirty {
			victim.spte.Kind = KindSwapped
			victim.spte.SwapIndex = ft.swap.Out(victim.frame)
		}
	default: // STACK, already-SWAPPED re-used as FILE/MMAP handled above
		victim.spte.Kind = KindSwapped
		victim.spte.SwapIndex = ft.swap.Out(victim.frame)
	}
	victim.spte.Loaded = false
	victim.pte.Clear(victim.vaddr)
	if ft.metrics != nil {
		ft.metrics.FrameEvictions.Inc()
	}
	logger.Tracef("vm: evicted vaddr=0x%x bucket=%d kind=%s", victim.vaddr, victimBucket, victim.spte.Kind)
	return victim.frame
}

func writeBackMMap(spte *SPTE, frame []byte) {
	if spte.File == nil {
		return
	}
	if _, err := spte.File.WriteAt(frame[:spte.ReadBytes], spte.Offset); err != nil {
		panic(fmt.Sprintf("vm: mmap write-back failed: %v", err))
	}
}
