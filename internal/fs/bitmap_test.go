package fs

import "testing"

func TestNewFreeMapReservesFirstTwoSectors(t *testing.T) {
	fm := newFreeMap(10)
	if !fm.used[0] || !fm.used[1] {
		t.Fatal("expected sectors 0 and 1 to be reserved at construction")
	}
}

func TestAllocateSkipsUsedSectors(t *testing.T) {
	fm := newFreeMap(4)
	sector, ok := fm.allocate()
	if !ok {
		t.Fatal("allocate() should have found a free sector")
	}
	if sector != 2 {
		t.Fatalf("allocate() = %d, want 2", sector)
	}
}

func TestAllocateFailsWhenFull(t *testing.T) {
	fm := newFreeMap(2)
	if _, ok := fm.allocate(); ok {
		t.Fatal("allocate() should fail when every sector is reserved")
	}
}

func TestReleaseMakesSectorAvailableAgain(t *testing.T) {
	fm := newFreeMap(3)
	sector, _ := fm.allocate()
	fm.release(sector)
	again, ok := fm.allocate()
	if !ok || again != sector {
		t.Fatalf("allocate() after release = (%d, %v), want (%d, true)", again, ok, sector)
	}
}
