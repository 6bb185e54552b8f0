package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const nameMax = 14

// dirEntry is one fixed-size slot in a directory file, mirroring
// struct dir_entry.
type dirEntry struct {
	InodeSector uint32
	Name        [nameMax + 1]byte
	InUse       uint8
}

const dirEntrySize = 4 + (nameMax + 1) + 1

func (e *dirEntry) marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, e)
	return buf.Bytes()
}

func unmarshalDirEntry(raw []byte) *dirEntry {
	e := &dirEntry{}
	binary.Read(bytes.NewReader(raw), binary.LittleEndian, e)
	return e
}

func (e *dirEntry) name() string {
	n := bytes.IndexByte(e.Name[:], 0)
	if n < 0 {
		n = len(e.Name)
	}
	return string(e.Name[:n])
}

func (e *dirEntry) setName(name string) error {
	if len(name) > nameMax {
		return fmt.Errorf("fs: name %q exceeds %d characters", name, nameMax)
	}
	var buf [nameMax + 1]byte
	copy(buf[:], name)
	e.Name = buf
	return nil
}

// Dir is an open directory: a thin cursor (for Readdir) over a
// directory's backing Inode, mirroring struct dir.
type Dir struct {
	inode *Inode
	pos   int64
}

// createDir lays out a new, empty directory of entryCount slots at
// sector, mirroring dir_create.
func (fsys *FileSystem) createDir(sector uint32, entryCount int) error {
	return fsys.createInode(sector, int64(entryCount*dirEntrySize), false)
}

func openDir(inode *Inode) *Dir {
	return &Dir{inode: inode}
}

// OpenRoot opens the root directory.
func (fsys *FileSystem) OpenRoot() (*Dir, error) {
	inode, err := fsys.openInode(rootDirSector)
	if err != nil {
		return nil, err
	}
	return openDir(inode), nil
}

// Close releases the directory's inode reference.
func (d *Dir) Close() error { return d.inode.Close() }

// Inode returns the directory's backing inode.
func (d *Dir) Inode() *Inode { return d.inode }

func (d *Dir) lookup(name string) (*dirEntry, int64, bool, error) {
	raw := make([]byte, dirEntrySize)
	for ofs := int64(0); ; ofs += dirEntrySize {
		n, err := d.inode.ReadAt(raw, ofs)
		if err != nil {
			return nil, 0, false, err
		}
		if n != dirEntrySize {
			return nil, 0, false, nil
		}
		e := unmarshalDirEntry(raw)
		if e.InUse != 0 && e.name() == name {
			return e, ofs, true, nil
		}
	}
}

// Lookup resolves name within d, returning the opened Inode for it.
func (d *Dir) Lookup(name string) (*Inode, error) {
	e, _, ok, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fs: %q: no such file or directory", name)
	}
	return d.inode.fs.openInode(e.InodeSector)
}

// Add inserts a directory entry named name pointing at inodeSector,
// failing if the name is already in use.
func (d *Dir) Add(name string, inodeSector uint32) error {
	if name == "" {
		return fmt.Errorf("fs: empty file name")
	}
	if _, _, ok, err := d.lookup(name); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("fs: %q already exists", name)
	}

	child, err := d.inode.fs.openInode(inodeSector)
	if err != nil {
		return err
	}
	child.mu.Lock()
	child.parentSector = d.inode.sector
	child.mu.Unlock()
	if err := child.Close(); err != nil {
		return err
	}

	e := &dirEntry{InodeSector: inodeSector, InUse: 1}
	if err := e.setName(name); err != nil {
		return err
	}

	raw := make([]byte, dirEntrySize)
	var ofs int64
	for {
		n, err := d.inode.ReadAt(raw, ofs)
		if err != nil {
			return err
		}
		if n != dirEntrySize {
			break
		}
		if unmarshalDirEntry(raw).InUse == 0 {
			break
		}
		ofs += dirEntrySize
	}
	n, err := d.inode.WriteAt(e.marshal(), ofs)
	if err != nil {
		return err
	}
	if n != dirEntrySize {
		return fmt.Errorf("fs: short write adding directory entry")
	}
	return nil
}

// Remove deletes the entry named name, rejecting non-empty
// subdirectories and directories with more than one opener.
func (d *Dir) Remove(name string) error {
	e, ofs, ok, err := d.lookup(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("fs: %q: no such file or directory", name)
	}
	inode, err := d.inode.fs.openInode(e.InodeSector)
	if err != nil {
		return err
	}
	defer inode.Close()

	if !inode.isFile {
		empty, err := isEmptyDir(inode)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("fs: directory %q is not empty", name)
		}
		if inode.openCount > 1 {
			return fmt.Errorf("fs: directory %q is busy", name)
		}
	}

	e.InUse = 0
	if n, err := d.inode.WriteAt(e.marshal(), ofs); err != nil {
		return err
	} else if n != dirEntrySize {
		return fmt.Errorf("fs: short write removing directory entry")
	}
	inode.Remove()
	return nil
}

// Readdir returns the next in-use entry's name, or ok=false at the
// end of the directory.
func (d *Dir) Readdir() (name string, ok bool, err error) {
	raw := make([]byte, dirEntrySize)
	for {
		n, err := d.inode.ReadAt(raw, d.pos)
		if err != nil {
			return "", false, err
		}
		if n != dirEntrySize {
			return "", false, nil
		}
		d.pos += dirEntrySize
		e := unmarshalDirEntry(raw)
		if e.InUse != 0 {
			return e.name(), true, nil
		}
	}
}

func isEmptyDir(inode *Inode) (bool, error) {
	raw := make([]byte, dirEntrySize)
	for ofs := int64(0); ; ofs += dirEntrySize {
		n, err := inode.ReadAt(raw, ofs)
		if err != nil {
			return false, err
		}
		if n != dirEntrySize {
			return true, nil
		}
		if unmarshalDirEntry(raw).InUse != 0 {
			return false, nil
		}
	}
}

// IsRoot reports whether d is the root directory.
func (d *Dir) IsRoot() bool { return d.inode.sector == rootDirSector }

// Parent opens d's parent directory's inode.
func (d *Dir) Parent() (*Inode, error) {
	return d.inode.fs.openInode(d.inode.parentSector)
}
