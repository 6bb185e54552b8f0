package vm

import (
	"bytes"
	"testing"

	"github.com/eduos-project/eduos/internal/metrics"
)

type memSwapDevice struct {
	sectors [][SectorSize]byte
}

func newMemSwapDevice(sectorCount int) *memSwapDevice {
	return &memSwapDevice{sectors: make([][SectorSize]byte, sectorCount)}
}

func (d *memSwapDevice) ReadSector(idx int, buf []byte) error {
	copy(buf, d.sectors[idx][:])
	return nil
}

func (d *memSwapDevice) WriteSector(idx int, buf []byte) error {
	copy(d.sectors[idx][:], buf)
	return nil
}

func TestSwapOutInRoundTrip(t *testing.T) {
	dev := newMemSwapDevice(SectorsPerPage * 4)
	swap := NewSwap(dev, SectorsPerPage*4, metrics.NewRegistry())

	frame := make([]byte, PageSize)
	for i := range frame {
		frame[i] = byte(i)
	}

	idx := swap.Out(frame)

	back := make([]byte, PageSize)
	swap.In(idx, back)
	if !bytes.Equal(frame, back) {
		t.Fatal("swapped-in frame does not match what was swapped out")
	}
}

func TestSwapOutExhaustionPanics(t *testing.T) {
	dev := newMemSwapDevice(SectorsPerPage)
	swap := NewSwap(dev, SectorsPerPage, metrics.NewRegistry())
	swap.Out(make([]byte, PageSize))

	defer func() {
		if recover() == nil {
			t.Fatal("expected Out on an exhausted swap device to panic")
		}
	}()
	swap.Out(make([]byte, PageSize))
}

func TestSwapInOnUnusedSlotPanics(t *testing.T) {
	dev := newMemSwapDevice(SectorsPerPage)
	swap := NewSwap(dev, SectorsPerPage, metrics.NewRegistry())

	defer func() {
		if recover() == nil {
			t.Fatal("expected In on an unused slot to panic")
		}
	}()
	swap.In(0, make([]byte, PageSize))
}
