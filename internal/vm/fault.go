package vm

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/eduos-project/eduos/internal/logger"
)

// AddressSpace bundles one process's page table plumbing: its
// supplemental page table, its (process-owned) hardware PTE, and
// shared references to the frame table and swap device every process
// allocates from.
type AddressSpace struct {
	SPT    *SPT
	PTE    PTE
	Frames *FrameTable
	Swap   *Swap
}

// AllocateFile registers a lazily-loaded, file-backed page (the common
// case for a process's code and initialized data segments).
func (as *AddressSpace) AllocateFile(vaddr uintptr, file FileHandle, offset int64, readBytes, zeroBytes int, readOnly bool) {
	as.SPT.Insert(&SPTE{
		UserVaddr: PageAlign(vaddr),
		Kind:      KindFile,
		ReadOnly:  readOnly,
		File:      file,
		Offset:    offset,
		ReadBytes: readBytes,
		ZeroBytes: zeroBytes,
	})
}

// AllocateStack registers a page of the initial user stack.
func (as *AddressSpace) AllocateStack(vaddr uintptr) {
	as.SPT.Insert(&SPTE{UserVaddr: PageAlign(vaddr), Kind: KindStack})
}

// LoadPage materializes the page described by spte into a physical
// frame and installs it in the PTE, dispatching on Kind the way
// load_page does. It is a no-op if the page is already loaded.
func (as *AddressSpace) LoadPage(spte *SPTE) error {
	if spte.Loaded {
		return nil
	}
	switch spte.Kind {
	case KindFile, KindMMap:
		return as.loadFileBacked(spte)
	case KindStack:
		return as.loadStack(spte)
	case KindSwapped:
		return as.loadSwapped(spte)
	default:
		return fmt.Errorf("vm: unknown SPTE kind %v", spte.Kind)
	}
}

func (as *AddressSpace) loadFileBacked(spte *SPTE) error {
	frame := as.Frames.Allocate(as.PTE, spte.UserVaddr, spte, spte.ZeroBytes == PageSize)
	if spte.ReadBytes > 0 {
		if _, err := spte.File.ReadAt(frame[:spte.ReadBytes], spte.Offset); err != nil {
			as.Frames.Free(as.PTE, spte.UserVaddr)
			return fmt.Errorf("vm: reading backing file: %w", err)
		}
	}
	for i := spte.ReadBytes; i < PageSize; i++ {
		frame[i] = 0
	}
	if !as.PTE.Set(spte.UserVaddr, frame, !spte.ReadOnly) {
		as.Frames.Free(as.PTE, spte.UserVaddr)
		return fmt.Errorf("vm: vaddr 0x%x already mapped", spte.UserVaddr)
	}
	spte.Loaded = true
	return nil
}

func (as *AddressSpace) loadStack(spte *SPTE) error {
	frame := as.Frames.Allocate(as.PTE, spte.UserVaddr, spte, true)
	if !as.PTE.Set(spte.UserVaddr, frame, true) {
		as.Frames.Free(as.PTE, spte.UserVaddr)
		return fmt.Errorf("vm: vaddr 0x%x already mapped", spte.UserVaddr)
	}
	spte.Loaded = true
	return nil
}

func (as *AddressSpace) loadSwapped(spte *SPTE) error {
	frame := as.Frames.Allocate(as.PTE, spte.UserVaddr, spte, false)
	as.Swap.In(spte.SwapIndex, frame)
	if !as.PTE.Set(spte.UserVaddr, frame, !spte.ReadOnly) {
		as.Frames.Free(as.PTE, spte.UserVaddr)
		return fmt.Errorf("vm: vaddr 0x%x already mapped", spte.UserVaddr)
	}
	spte.Loaded = true
	// Reclassify back to whatever it was before being swapped out, the
	// same inference load_page_swap makes from the presence of a
	// backing file or map id.
	switch {
	case spte.MapID != "":
		spte.Kind = KindMMap
	case spte.File != nil:
		spte.Kind = KindFile
	default:
		spte.Kind = KindStack
	}
	return nil
}

// HandleFault resolves a page fault at vaddr. If no SPTE covers vaddr,
// it is treated as a stack-growth candidate when it is at most 32
// bytes below stackPointer and within MaxStackSize of the stack's top;
// otherwise the fault is unrecoverable
// and HandleFault returns an error (the caller should kill the
// faulting process).
func (as *AddressSpace) HandleFault(vaddr, stackPointer uintptr) error {
	aligned := PageAlign(vaddr)
	if spte := as.SPT.Get(aligned); spte != nil {
		return as.LoadPage(spte)
	}
	if isStackGrowth(vaddr, stackPointer) {
		as.AllocateStack(aligned)
		return as.LoadPage(as.SPT.Get(aligned))
	}
	return fmt.Errorf("vm: unmapped fault at 0x%x (sp=0x%x)", vaddr, stackPointer)
}

// isStackGrowth reports whether a fault below the mapped stack region
// looks like a legitimate PUSH/PUSHA, i.e. no more than 32 bytes below
// the stack pointer, and still within MaxStackSize of the stack's top.
func isStackGrowth(vaddr, stackPointer uintptr) bool {
	if vaddr+32 < stackPointer {
		return false
	}
	return vaddr >= stackTop-MaxStackSize
}

// stackTop is the fixed address the initial stack page is mapped at;
// every process's user stack grows downward from here.
const stackTop = 0xC0000000

// Mmap lays out length bytes of file starting at offset 0 as
// page-aligned MMAP SPTEs beginning at vaddr, returning a map id used
// later by Munmap. It aborts and unmaps everything laid out so far if
// any page would collide with an existing mapping.
func (as *AddressSpace) Mmap(file FileHandle, vaddr uintptr, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("vm: mmap of empty file")
	}
	mapID := uuid.NewString()
	pages := (length + PageSize - 1) / PageSize
	for i := 0; i < pages; i++ {
		pageVaddr := vaddr + uintptr(i*PageSize)
		if as.SPT.Get(pageVaddr) != nil {
			as.unmapPartial(mapID)
			return "", fmt.Errorf("vm: mmap region overlaps an existing mapping at 0x%x", pageVaddr)
		}
		readBytes := PageSize
		if i == pages-1 && length%PageSize != 0 {
			readBytes = length % PageSize
		}
		as.SPT.Insert(&SPTE{
			UserVaddr: pageVaddr,
			Kind:      KindMMap,
			File:      file,
			Offset:    int64(i * PageSize),
			ReadBytes: readBytes,
			ZeroBytes: PageSize - readBytes,
			MapID:     mapID,
		})
	}
	return mapID, nil
}

func (as *AddressSpace) unmapPartial(mapID string) {
	for _, e := range as.SPT.Entries() {
		if e.MapID == mapID {
			as.Frames.Free(as.PTE, e.UserVaddr)
			as.SPT.Remove(e.UserVaddr)
		}
	}
}

// Munmap writes back every dirty page of the mapping identified by
// mapID, frees its frames, and removes its SPTEs. It closes the
// backing file once every page has been handled.
func (as *AddressSpace) Munmap(mapID string) error {
	var file FileHandle
	for _, e := range as.SPT.Entries() {
		if e.MapID != mapID {
			continue
		}
		file = e.File
		if e.Loaded && as.PTE.Dirty(e.UserVaddr) {
			if frame := as.PTE.Get(e.UserVaddr); frame != nil {
				writeBackMMap(e, frame)
			}
		}
		as.Frames.Free(as.PTE, e.UserVaddr)
		as.SPT.Remove(e.UserVaddr)
	}
	if file == nil {
		logger.Tracef("vm: munmap of unknown map id %s", mapID)
		return nil
	}
	return file.Close()
}
