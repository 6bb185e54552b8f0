package vm

import (
	"fmt"
	"sync"

	"github.com/eduos-project/eduos/internal/metrics"
)

// SwapDevice is a sector-addressable backing store (the disk's
// reserved swap region). It owns no policy; vm drives it a page
// (SectorsPerPage sectors) at a time.
type SwapDevice interface {
	ReadSector(idx int, buf []byte) error
	WriteSector(idx int, buf []byte) error
}

// Swap tracks which page-sized slots of a SwapDevice are in use with a
// bitmap, one bit per slot, mirroring swap_init/swap_in/swap_out.
type Swap struct {
	mu      sync.Mutex
	dev     SwapDevice
	used    []bool
	metrics *metrics.Registry
}

// NewSwap sizes a Swap to hold sectorCount/SectorsPerPage slots.
func NewSwap(dev SwapDevice, sectorCount int, m *metrics.Registry) *Swap {
	return &Swap{
		dev:     dev,
		used:    make([]bool, sectorCount/SectorsPerPage),
		metrics: m,
	}
}

// Out writes frame (exactly PageSize bytes) to a free slot and returns
// its index, for later retrieval with In. It panics if no slot is free,
// mirroring the original's PANIC on BITMAP_ERROR — swap exhaustion is
// unrecoverable in this kernel.
func (s *Swap) Out(frame []byte) int {
	if len(frame) != PageSize {
		panic(fmt.Sprintf("vm: Swap.Out frame must be %d bytes, got %d", PageSize, len(frame)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, used := range s.used {
		if !used {
			idx = i
			break
		}
	}
	if idx == -1 {
		panic("vm: swap device exhausted")
	}
	s.used[idx] = true

	for sec := 0; sec < SectorsPerPage; sec++ {
		off := sec * SectorSize
		if err := s.dev.WriteSector(idx*SectorsPerPage+sec, frame[off:off+SectorSize]); err != nil {
			panic(fmt.Sprintf("vm: swap write failed: %v", err))
		}
	}
	if s.metrics != nil {
		s.metrics.SwapOuts.Inc()
	}
	return idx
}

// In reads slot idx back into frame (which must be PageSize bytes) and
// frees the slot.
func (s *Swap) In(idx int, frame []byte) {
	if len(frame) != PageSize {
		panic(fmt.Sprintf("vm: Swap.In frame must be %d bytes, got %d", PageSize, len(frame)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 || idx >= len(s.used) || !s.used[idx] {
		panic(fmt.Sprintf("vm: Swap.In on unused slot %d", idx))
	}
	s.used[idx] = false

	for sec := 0; sec < SectorsPerPage; sec++ {
		off := sec * SectorSize
		if err := s.dev.ReadSector(idx*SectorsPerPage+sec, frame[off:off+SectorSize]); err != nil {
			panic(fmt.Sprintf("vm: swap read failed: %v", err))
		}
	}
	if s.metrics != nil {
		s.metrics.SwapIns.Inc()
	}
}
