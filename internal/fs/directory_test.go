package fs

import "testing"

func TestDirEntryNameRoundTrip(t *testing.T) {
	e := &dirEntry{}
	if err := e.setName("readme.txt"); err != nil {
		t.Fatalf("setName() error = %v", err)
	}
	if got := e.name(); got != "readme.txt" {
		t.Fatalf("name() = %q, want readme.txt", got)
	}
}

func TestDirEntrySetNameRejectsTooLong(t *testing.T) {
	e := &dirEntry{}
	if err := e.setName("this-name-is-way-too-long"); err == nil {
		t.Fatal("expected setName() to reject a name over nameMax characters")
	}
}

func TestDirEntryMarshalRoundTrip(t *testing.T) {
	e := &dirEntry{InodeSector: 7, InUse: 1}
	e.setName("x")

	got := unmarshalDirEntry(e.marshal())
	if got.InodeSector != 7 || got.InUse != 1 || got.name() != "x" {
		t.Fatalf("unmarshalDirEntry() = %+v, want InodeSector=7 InUse=1 name=x", got)
	}
}

func TestAddDuplicateNameFails(t *testing.T) {
	fsys := newTestFS(t, 512)
	root, _ := fsys.OpenRoot()
	defer root.Close()

	fsys.Create("dup.txt", root, 0)
	if err := fsys.Create("dup.txt", root, 0); err == nil {
		t.Fatal("expected creating a duplicate name to fail")
	}
}
