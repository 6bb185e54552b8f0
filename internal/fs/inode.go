package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	inodeMagic       = 0x494e4f44
	directBlocks     = 12
	numIndirectPtrs  = SectorSize / 4 // 128 pointers per indirect block
	rootDirSector    = 1
	maxFileSize      = SectorSize * (directBlocks + numIndirectPtrs + numIndirectPtrs*numIndirectPtrs)
	onDiskInodeBytes = SectorSize
)

// onDiskInode is the exact, fixed-size (SectorSize-byte) layout an
// Inode is marshaled to and from, mirroring struct inode_disk.
type onDiskInode struct {
	Length         int64
	Magic          uint32
	Blocks         [14]uint32
	Direct         uint32
	Indirect       uint32
	DoubleIndirect uint32
	IsFile         uint8
	ParentSector   uint32
	_              [onDiskInodeBytes - 8 - 4 - 14*4 - 4*3 - 1 - 4]byte
}

func (d *onDiskInode) marshal() []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, d); err != nil {
		panic(fmt.Sprintf("fs: marshaling inode: %v", err))
	}
	return buf.Bytes()
}

func unmarshalOnDiskInode(raw []byte) *onDiskInode {
	d := &onDiskInode{}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, d); err != nil {
		panic(fmt.Sprintf("fs: unmarshaling inode: %v", err))
	}
	return d
}

// Inode is the in-memory, reference-counted handle to an on-disk file
// or directory, indexed by 12 direct blocks, one indirect block, and
// one doubly-indirect block, mirroring struct inode.
type Inode struct {
	mu sync.Mutex

	fs     *FileSystem
	sector uint32

	openCount      int
	removed        bool
	denyWriteCount int

	length         int64
	direct         uint32
	indirect       uint32
	doubleIndirect uint32
	isFile         bool
	parentSector   uint32
	blocks         [14]uint32
}

func bytesToSectors(size int64) int64 {
	return (size + SectorSize - 1) / SectorSize
}

// createInode initializes a fresh, zero-length inode at sector and
// expands it to hold length bytes, mirroring inode_create.
func (fsys *FileSystem) createInode(sector uint32, length int64, isFile bool) error {
	in := &Inode{fs: fsys, sector: sector, isFile: isFile, parentSector: rootDirSector}
	if err := in.expand(length); err != nil {
		return err
	}
	in.length = length
	return fsys.writeInodeRaw(in)
}

func (fsys *FileSystem) writeInodeRaw(in *Inode) error {
	d := &onDiskInode{
		Length:         in.length,
		Magic:          inodeMagic,
		Blocks:         in.blocks,
		Direct:         in.direct,
		Indirect:       in.indirect,
		DoubleIndirect: in.doubleIndirect,
		ParentSector:   in.parentSector,
	}
	if in.isFile {
		d.IsFile = 1
	}
	return fsys.cache.Write(in.sector, d.marshal())
}

// openInode loads (or returns the already-open, refcounted) Inode at
// sector, mirroring inode_open.
func (fsys *FileSystem) openInode(sector uint32) (*Inode, error) {
	fsys.mu.Lock()
	if in, ok := fsys.openInodes[sector]; ok {
		in.mu.Lock()
		in.openCount++
		in.mu.Unlock()
		fsys.mu.Unlock()
		return in, nil
	}
	fsys.mu.Unlock()

	raw := make([]byte, SectorSize)
	if err := fsys.cache.Read(sector, raw); err != nil {
		return nil, err
	}
	d := unmarshalOnDiskInode(raw)
	in := &Inode{
		fs:             fsys,
		sector:         sector,
		openCount:      1,
		length:         d.Length,
		direct:         d.Direct,
		indirect:       d.Indirect,
		doubleIndirect: d.DoubleIndirect,
		isFile:         d.IsFile != 0,
		parentSector:   d.ParentSector,
		blocks:         d.Blocks,
	}

	fsys.mu.Lock()
	fsys.openInodes[sector] = in
	fsys.mu.Unlock()
	return in, nil
}

// Close releases a reference to in, flushing or freeing it once the
// last opener has gone, mirroring inode_close.
func (in *Inode) Close() error {
	in.mu.Lock()
	in.openCount--
	done := in.openCount == 0
	removed := in.removed
	in.mu.Unlock()
	if !done {
		return nil
	}

	in.fs.mu.Lock()
	delete(in.fs.openInodes, in.sector)
	in.fs.mu.Unlock()

	if removed {
		in.freeResources()
		in.fs.freeMap.release(in.sector)
		return nil
	}
	return in.fs.writeInodeRaw(in)
}

// Remove marks in for deletion once its last opener closes it.
func (in *Inode) Remove() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.removed = true
}

func (in *Inode) IsFile() bool        { return in.isFile }
func (in *Inode) Sector() uint32      { return in.sector }
func (in *Inode) ParentSector() uint32 { return in.parentSector }
func (in *Inode) Length() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.length
}

func (in *Inode) DenyWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.denyWriteCount++
}

func (in *Inode) AllowWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.denyWriteCount == 0 {
		panic("fs: AllowWrite with no matching DenyWrite")
	}
	in.denyWriteCount--
}

// byteToSector resolves a byte offset within in to its disk sector,
// consulting the indirect and doubly-indirect blocks through the
// cache as needed. It returns ok=false past end-of-file.
func (in *Inode) byteToSector(pos int64) (uint32, bool, error) {
	if pos >= in.length {
		return 0, false, nil
	}
	idx := pos / SectorSize
	if idx < directBlocks {
		return in.blocks[idx], true, nil
	}
	idx -= directBlocks
	if idx < numIndirectPtrs {
		block, err := in.fs.readPointerBlock(in.blocks[12])
		if err != nil {
			return 0, false, err
		}
		return block[idx], true, nil
	}
	idx -= numIndirectPtrs
	if idx < numIndirectPtrs*numIndirectPtrs {
		outer, err := in.fs.readPointerBlock(in.blocks[13])
		if err != nil {
			return 0, false, err
		}
		inner, err := in.fs.readPointerBlock(outer[idx/numIndirectPtrs])
		if err != nil {
			return 0, false, err
		}
		return inner[idx%numIndirectPtrs], true, nil
	}
	return 0, false, nil
}

func (fsys *FileSystem) readPointerBlock(sector uint32) ([numIndirectPtrs]uint32, error) {
	raw := make([]byte, SectorSize)
	var block [numIndirectPtrs]uint32
	if err := fsys.cache.Read(sector, raw); err != nil {
		return block, err
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &block); err != nil {
		return block, fmt.Errorf("fs: decoding pointer block: %w", err)
	}
	return block, nil
}

func (fsys *FileSystem) writePointerBlock(sector uint32, block [numIndirectPtrs]uint32) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &block); err != nil {
		return fmt.Errorf("fs: encoding pointer block: %w", err)
	}
	return fsys.cache.Write(sector, buf.Bytes())
}

// ReadAt reads len(p) bytes starting at offset, returning the number
// of bytes actually read (short of len(p) at end of file).
func (in *Inode) ReadAt(p []byte, offset int64) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	var read int
	for read < len(p) {
		sector, ok, err := in.byteToSector(offset)
		if err != nil {
			return read, err
		}
		if !ok {
			break
		}
		sectorOfs := int(offset % SectorSize)
		inodeLeft := in.length - offset
		sectorLeft := int64(SectorSize - sectorOfs)
		chunk := int64(len(p) - read)
		if inodeLeft < chunk {
			chunk = inodeLeft
		}
		if sectorLeft < chunk {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}
		raw := make([]byte, SectorSize)
		if err := in.fs.cache.Read(sector, raw); err != nil {
			return read, err
		}
		copy(p[read:read+int(chunk)], raw[sectorOfs:])
		read += int(chunk)
		offset += chunk
	}
	return read, nil
}

// WriteAt writes p at offset, extending (and zero-filling) the inode
// if the write runs past the current length.
func (in *Inode) WriteAt(p []byte, offset int64) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.denyWriteCount > 0 {
		return 0, nil
	}
	if offset+int64(len(p)) > in.length {
		if err := in.expand(offset + int64(len(p))); err != nil {
			return 0, err
		}
		in.length = offset + int64(len(p))
	}

	var written int
	for written < len(p) {
		sector, ok, err := in.byteToSector(offset)
		if err != nil {
			return written, err
		}
		if !ok {
			break
		}
		sectorOfs := int(offset % SectorSize)
		inodeLeft := in.length - offset
		sectorLeft := int64(SectorSize - sectorOfs)
		chunk := int64(len(p) - written)
		if inodeLeft < chunk {
			chunk = inodeLeft
		}
		if sectorLeft < chunk {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}
		raw := make([]byte, SectorSize)
		if err := in.fs.cache.Read(sector, raw); err != nil {
			return written, err
		}
		copy(raw[sectorOfs:], p[written:written+int(chunk)])
		if err := in.fs.cache.Write(sector, raw); err != nil {
			return written, err
		}
		written += int(chunk)
		offset += chunk
	}
	return written, nil
}

// expand grows in to cover newLength bytes, allocating direct,
// indirect, then doubly-indirect blocks in that order, mirroring
// inode_expand.
func (in *Inode) expand(newLength int64) error {
	extra := bytesToSectors(newLength) - bytesToSectors(in.length)
	if extra <= 0 {
		return nil
	}
	zero := make([]byte, SectorSize)

	for in.direct < directBlocks && extra > 0 {
		sector, ok := in.fs.freeMap.allocate()
		if !ok {
			return fmt.Errorf("fs: disk full expanding inode")
		}
		if err := in.fs.cache.Write(sector, zero); err != nil {
			return err
		}
		in.blocks[in.direct] = sector
		in.direct++
		extra--
	}
	if extra == 0 {
		return nil
	}

	if in.indirect < numIndirectPtrs {
		var block [numIndirectPtrs]uint32
		if in.indirect > 0 {
			b, err := in.fs.readPointerBlock(in.blocks[12])
			if err != nil {
				return err
			}
			block = b
		} else {
			sector, ok := in.fs.freeMap.allocate()
			if !ok {
				return fmt.Errorf("fs: disk full allocating indirect block")
			}
			in.blocks[12] = sector
		}
		for in.indirect < numIndirectPtrs && extra > 0 {
			sector, ok := in.fs.freeMap.allocate()
			if !ok {
				return fmt.Errorf("fs: disk full expanding inode")
			}
			if err := in.fs.cache.Write(sector, zero); err != nil {
				return err
			}
			block[in.indirect] = sector
			in.indirect++
			extra--
		}
		if err := in.fs.writePointerBlock(in.blocks[12], block); err != nil {
			return err
		}
		if extra == 0 {
			return nil
		}
	}

	if in.doubleIndirect < numIndirectPtrs*numIndirectPtrs {
		var outer [numIndirectPtrs]uint32
		if in.doubleIndirect > 0 {
			o, err := in.fs.readPointerBlock(in.blocks[13])
			if err != nil {
				return err
			}
			outer = o
		} else {
			sector, ok := in.fs.freeMap.allocate()
			if !ok {
				return fmt.Errorf("fs: disk full allocating doubly-indirect block")
			}
			in.blocks[13] = sector
		}
		for in.doubleIndirect < numIndirectPtrs*numIndirectPtrs && extra > 0 {
			blockIdx := in.doubleIndirect / numIndirectPtrs
			var inner [numIndirectPtrs]uint32
			if in.doubleIndirect%numIndirectPtrs == 0 {
				sector, ok := in.fs.freeMap.allocate()
				if !ok {
					return fmt.Errorf("fs: disk full allocating indirect block")
				}
				outer[blockIdx] = sector
			} else {
				b, err := in.fs.readPointerBlock(outer[blockIdx])
				if err != nil {
					return err
				}
				inner = b
			}
			for extra > 0 {
				sector, ok := in.fs.freeMap.allocate()
				if !ok {
					return fmt.Errorf("fs: disk full expanding inode")
				}
				if err := in.fs.cache.Write(sector, zero); err != nil {
					return err
				}
				inner[in.doubleIndirect%numIndirectPtrs] = sector
				in.doubleIndirect++
				extra--
				if in.doubleIndirect%numIndirectPtrs == 0 {
					break
				}
			}
			if err := in.fs.writePointerBlock(outer[blockIdx], inner); err != nil {
				return err
			}
		}
		if err := in.fs.writePointerBlock(in.blocks[13], outer); err != nil {
			return err
		}
	}
	if extra > 0 {
		return fmt.Errorf("fs: inode exceeds maximum file size of %d bytes", maxFileSize)
	}
	return nil
}

// freeResources releases every sector (direct, indirect, and doubly
// indirect) backing in, mirroring inode_free_resources.
func (in *Inode) freeResources() {
	remaining := bytesToSectors(in.length)

	for i := 0; i < directBlocks && remaining > 0; i++ {
		in.fs.freeMap.release(in.blocks[i])
		remaining--
	}
	if remaining == 0 {
		return
	}

	block, err := in.fs.readPointerBlock(in.blocks[12])
	if err == nil {
		for i := 0; i < numIndirectPtrs && remaining > 0; i++ {
			in.fs.freeMap.release(block[i])
			remaining--
		}
	}
	if remaining == 0 {
		return
	}

	outer, err := in.fs.readPointerBlock(in.blocks[13])
	if err != nil {
		return
	}
	for blockIdx := 0; blockIdx < numIndirectPtrs && remaining > 0; blockIdx++ {
		inner, err := in.fs.readPointerBlock(outer[blockIdx])
		if err != nil {
			continue
		}
		for i := 0; i < numIndirectPtrs && remaining > 0; i++ {
			in.fs.freeMap.release(inner[i])
			remaining--
		}
	}
}
