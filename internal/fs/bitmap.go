package fs

import "sync"

// freeMap is the sector allocator: one bit per sector on the
// filesystem disk, mirroring free-map.c. Sector 0 is reserved for the
// free map itself and sector 1 for the root directory, matching
// ROOT_DIR_SECTOR in the original layout.
type freeMap struct {
	mu   sync.Mutex
	used []bool
}

func newFreeMap(sectorCount int) *freeMap {
	fm := &freeMap{used: make([]bool, sectorCount)}
	fm.used[0] = true // free map sector
	fm.used[1] = true // root directory sector
	return fm
}

// allocate claims the first free sector and returns it.
func (fm *freeMap) allocate() (uint32, bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i, u := range fm.used {
		if !u {
			fm.used[i] = true
			return uint32(i), true
		}
	}
	return 0, false
}

// release frees a previously allocated sector.
func (fm *freeMap) release(sector uint32) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.used[sector] = false
}
