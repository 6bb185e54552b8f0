package vm

import (
	"github.com/jacobsa/syncutil"
)

// SPT is one process's supplemental page table: a map from
// page-aligned user virtual address to the SPTE describing how to
// materialize or locate that page. Addresses are unique by
// construction — Insert panics on a collision, the P5 invariant.
type SPT struct {
	mu      syncutil.InvariantMutex
	entries map[uintptr]*SPTE
}

// NewSPT constructs an empty SPT.
func NewSPT() *SPT {
	s := &SPT{entries: make(map[uintptr]*SPTE)}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return s
}

func (s *SPT) checkInvariants() {
	for vaddr, e := range s.entries {
		if e.UserVaddr != vaddr {
			panic("vm: SPT entry keyed under the wrong address")
		}
		if vaddr != PageAlign(vaddr) {
			panic("vm: SPT entry keyed under an unaligned address")
		}
	}
}

// Insert adds spte, keyed by its (already page-aligned) UserVaddr. It
// panics if an entry already exists at that address.
func (s *SPT) Insert(spte *SPTE) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[spte.UserVaddr]; exists {
		panic("vm: duplicate SPT entry")
	}
	s.entries[spte.UserVaddr] = spte
}

// Get returns the SPTE covering vaddr, or nil if none exists.
func (s *SPT) Get(vaddr uintptr) *SPTE {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[PageAlign(vaddr)]
}

// Remove deletes the entry at vaddr, if any.
func (s *SPT) Remove(vaddr uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, PageAlign(vaddr))
}

// Entries returns a snapshot slice of every SPTE, for process-exit
// teardown and munmap write-back scans.
func (s *SPT) Entries() []*SPTE {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SPTE, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}
