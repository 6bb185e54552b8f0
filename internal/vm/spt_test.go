package vm

import "testing"

func TestSPTInsertGetRemove(t *testing.T) {
	spt := NewSPT()
	spte := &SPTE{UserVaddr: PageAlign(0x1000), Kind: KindStack}
	spt.Insert(spte)

	if got := spt.Get(0x1000 + 10); got != spte {
		t.Fatalf("Get() = %v, want %v", got, spte)
	}
	if got := spt.Get(0x2000); got != nil {
		t.Fatalf("Get() of unmapped address = %v, want nil", got)
	}

	spt.Remove(0x1000)
	if got := spt.Get(0x1000); got != nil {
		t.Fatalf("Get() after Remove = %v, want nil", got)
	}
}

func TestSPTInsertDuplicatePanics(t *testing.T) {
	spt := NewSPT()
	spt.Insert(&SPTE{UserVaddr: PageAlign(0x1000), Kind: KindStack})

	defer func() {
		if recover() == nil {
			t.Fatal("expected Insert of a duplicate address to panic")
		}
	}()
	spt.Insert(&SPTE{UserVaddr: PageAlign(0x1000), Kind: KindFile})
}

func TestSPTEntriesSnapshot(t *testing.T) {
	spt := NewSPT()
	spt.Insert(&SPTE{UserVaddr: PageAlign(0x1000), Kind: KindStack})
	spt.Insert(&SPTE{UserVaddr: PageAlign(0x2000), Kind: KindFile})

	entries := spt.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() returned %d entries, want 2", len(entries))
	}
}
