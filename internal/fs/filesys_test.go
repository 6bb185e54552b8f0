package fs

import (
	"testing"
	"time"

	"github.com/eduos-project/eduos/clock"
	"github.com/eduos-project/eduos/internal/fsdisk"
	"github.com/eduos-project/eduos/internal/metrics"
)

func newTestFS(t *testing.T, sectorCount int) *FileSystem {
	t.Helper()
	disk := fsdisk.New(sectorCount, 1_000_000)
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	fsys, err := Format(disk, clk, 8, metrics.NewRegistry())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return fsys
}

func TestCreateOpenWriteReadRoundTrip(t *testing.T) {
	fsys := newTestFS(t, 512)

	root, err := fsys.OpenRoot()
	if err != nil {
		t.Fatalf("OpenRoot() error = %v", err)
	}
	defer root.Close()

	if err := fsys.Create("hello.txt", root, 0); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	inode, err := fsys.Open("hello.txt", root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer inode.Close()

	want := []byte("hello, eduos")
	if n, err := inode.WriteAt(want, 0); err != nil || n != len(want) {
		t.Fatalf("WriteAt() = (%d, %v), want (%d, nil)", n, err, len(want))
	}

	got := make([]byte, len(want))
	if n, err := inode.ReadAt(got, 0); err != nil || n != len(want) {
		t.Fatalf("ReadAt() = (%d, %v), want (%d, nil)", n, err, len(want))
	}
	if string(got) != string(want) {
		t.Fatalf("ReadAt() = %q, want %q", got, want)
	}
}

func TestWriteAtExtendsFileLength(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	fsys.Create("grow.bin", root, 0)
	inode, _ := fsys.Open("grow.bin", root)
	defer inode.Close()

	payload := make([]byte, SectorSize*3)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := inode.WriteAt(payload, 100); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	if got, want := inode.Length(), int64(100+len(payload)); got != want {
		t.Fatalf("Length() = %d, want %d", got, want)
	}
}

// A write spanning direct, indirect, and doubly-indirect blocks must
// round-trip exactly, exercising all three levels of byteToSector.
func TestWriteAtSpanningIndirectBlocks(t *testing.T) {
	fsys := newTestFS(t, directBlocks+numIndirectPtrs+64)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	fsys.Create("big.bin", root, 0)
	inode, _ := fsys.Open("big.bin", root)
	defer inode.Close()

	offset := int64((directBlocks + numIndirectPtrs - 1) * SectorSize)
	payload := make([]byte, SectorSize*4)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if _, err := inode.WriteAt(payload, offset); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := inode.ReadAt(got, offset); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d = %x, want %x", i, got[i], payload[i])
		}
	}
}

func TestMkdirAndNestedPathResolution(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	if err := fsys.Mkdir("sub", root); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := fsys.Create("sub/file.txt", root, 0); err != nil {
		t.Fatalf("Create() in subdirectory error = %v", err)
	}

	inode, err := fsys.Open("sub/file.txt", root)
	if err != nil {
		t.Fatalf("Open() nested path error = %v", err)
	}
	inode.Close()

	sub, err := fsys.OpenDir("sub", root)
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	defer sub.Close()

	name, ok, err := sub.Readdir()
	if err != nil || !ok {
		t.Fatalf("Readdir() = (%q, %v, %v), want an entry", name, ok, err)
	}
	if name != "file.txt" {
		t.Fatalf("Readdir() name = %q, want file.txt", name)
	}
}

func TestRemoveRejectsNonEmptyDirectory(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	fsys.Mkdir("sub", root)
	fsys.Create("sub/file.txt", root, 0)

	if err := fsys.Remove("sub", root); err == nil {
		t.Fatal("expected Remove of a non-empty directory to fail")
	}
}

func TestRemoveThenCreateReusesSector(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	fsys.Create("a.txt", root, 0)
	if err := fsys.Remove("a.txt", root); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := fsys.Open("a.txt", root); err == nil {
		t.Fatal("expected Open() of a removed file to fail")
	}
	if err := fsys.Create("b.txt", root, 0); err != nil {
		t.Fatalf("Create() after Remove() error = %v", err)
	}
}

func TestDotDotResolvesToParent(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	fsys.Mkdir("sub", root)
	if err := fsys.Create("sub/../atroot.txt", root, 0); err != nil {
		t.Fatalf("Create() via .. error = %v", err)
	}
	inode, err := fsys.Open("atroot.txt", root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	inode.Close()
}

func TestOpenDotDotAsFinalComponentOpensParent(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	if err := fsys.Mkdir("sub", root); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	sub, err := fsys.OpenDir("sub", root)
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	defer sub.Close()

	parent, err := fsys.Open("..", sub)
	if err != nil {
		t.Fatalf("Open(\"..\") error = %v", err)
	}
	defer parent.Close()
	if parent.sector != rootDirSector {
		t.Fatalf("Open(\"..\").sector = %d, want root sector %d", parent.sector, rootDirSector)
	}
}

func TestOpenDotAsFinalComponentOpensSameDirectory(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	if err := fsys.Mkdir("sub", root); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	sub, err := fsys.OpenDir("sub", root)
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	defer sub.Close()

	same, err := fsys.Open(".", sub)
	if err != nil {
		t.Fatalf("Open(\".\") error = %v", err)
	}
	defer same.Close()
	if same.sector != sub.Inode().sector {
		t.Fatalf("Open(\".\").sector = %d, want %d", same.sector, sub.Inode().sector)
	}
}

func TestChdirDotDotNavigatesToParent(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	if err := fsys.Mkdir("sub", root); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	sub, err := fsys.OpenDir("sub", root)
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	defer sub.Close()

	parent, err := fsys.OpenDir("..", sub)
	if err != nil {
		t.Fatalf("OpenDir(\"..\") error = %v", err)
	}
	defer parent.Close()
	if parent.Inode().sector != rootDirSector {
		t.Fatalf("OpenDir(\"..\").Inode().sector = %d, want root sector %d", parent.Inode().sector, rootDirSector)
	}
}

func TestCreateRejectsDotAndDotDotAsFinalComponent(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	if err := fsys.Create(".", root, 0); err == nil {
		t.Fatal("Create(\".\") should have been rejected")
	}
	if err := fsys.Create("..", root, 0); err == nil {
		t.Fatal("Create(\"..\") should have been rejected")
	}
	if err := fsys.Mkdir(".", root); err == nil {
		t.Fatal("Mkdir(\".\") should have been rejected")
	}
	if err := fsys.Mkdir("..", root); err == nil {
		t.Fatal("Mkdir(\"..\") should have been rejected")
	}
}
