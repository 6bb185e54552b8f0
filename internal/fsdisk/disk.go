// Package fsdisk simulates the sector-addressable block device the
// filesystem and swap subsystems are both built on: a fixed-size
// in-memory array of sectors, rate-limited the way the teacher rate-limits GCS
// calls, so cache-miss and swap-thrash behavior stays observable
// instead of hiding behind in-memory speed.
package fsdisk

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

const SectorSize = 512

// Disk is an in-memory sector device guarded by a single mutex and
// throttled to IOPSLimit operations per second.
type Disk struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
	limiter *rate.Limiter
	reads   uint64
	writes  uint64
}

// New constructs a zero-filled Disk of sectorCount sectors, limited to
// iopsLimit sector operations per second (burst of one second's worth).
func New(sectorCount int, iopsLimit float64) *Disk {
	return &Disk{
		sectors: make([][SectorSize]byte, sectorCount),
		limiter: rate.NewLimiter(rate.Limit(iopsLimit), int(iopsLimit)+1),
	}
}

// SectorCount returns the number of addressable sectors.
func (d *Disk) SectorCount() int {
	return len(d.sectors)
}

// ReadSector copies sector idx into buf, which must be SectorSize
// bytes, blocking on the rate limiter.
func (d *Disk) ReadSector(idx int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("fsdisk: buf must be %d bytes, got %d", SectorSize, len(buf))
	}
	if err := d.limiter.Wait(context.Background()); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.sectors) {
		return fmt.Errorf("fsdisk: sector %d out of range [0,%d)", idx, len(d.sectors))
	}
	copy(buf, d.sectors[idx][:])
	d.reads++
	return nil
}

// WriteSector copies buf (SectorSize bytes) into sector idx, blocking
// on the rate limiter.
func (d *Disk) WriteSector(idx int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("fsdisk: buf must be %d bytes, got %d", SectorSize, len(buf))
	}
	if err := d.limiter.Wait(context.Background()); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.sectors) {
		return fmt.Errorf("fsdisk: sector %d out of range [0,%d)", idx, len(d.sectors))
	}
	copy(d.sectors[idx][:], buf)
	d.writes++
	return nil
}

// Stats returns the lifetime read/write sector counts, for boot-time
// diagnostics and tests.
func (d *Disk) Stats() (reads, writes uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes
}
