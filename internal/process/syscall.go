package process

import (
	"fmt"

	"github.com/eduos-project/eduos/internal/fs"
)

// Syscall is the numeric identifier of a system call, per §6's table.
type Syscall int

const (
	SysHalt Syscall = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysMmap
	SysMunmap
	SysChdir
	SysMkdir
	SysReaddir
	SysIsDir
	SysInumber
)

// Create implements CREATE(name,size) -> bool.
func (p *Process) Create(fsys *fs.FileSystem, name string, size int64) bool {
	return fsys.Create(name, p.Cwd, size) == nil
}

// Remove implements REMOVE(name) -> bool.
func (p *Process) Remove(fsys *fs.FileSystem, name string) bool {
	return fsys.Remove(name, p.Cwd) == nil
}

// Mkdir implements MKDIR(path) -> bool.
func (p *Process) Mkdir(fsys *fs.FileSystem, path string) bool {
	return fsys.Mkdir(path, p.Cwd) == nil
}

// Chdir implements CHDIR(path) -> bool.
func (p *Process) Chdir(fsys *fs.FileSystem, path string) bool {
	dir, err := fsys.OpenDir(path, p.Cwd)
	if err != nil {
		return false
	}
	if p.Cwd != nil {
		p.Cwd.Close()
	}
	p.Cwd = dir
	return true
}

// Open implements OPEN(name) -> fd, returning -1 on failure or once
// the descriptor table is full. The opened handle is an *fs.Inode for
// a file or an *fs.Dir for a directory, matching what ISDIR reports.
func (p *Process) Open(fsys *fs.FileSystem, name string) int {
	inode, err := fsys.Open(name, p.Cwd)
	if err != nil {
		return -1
	}
	var h any = inode
	if !inode.IsFile() {
		inode.Close()
		dir, err := fsys.OpenDir(name, p.Cwd)
		if err != nil {
			return -1
		}
		h = dir
	}
	fd := p.allocFD()
	if fd == -1 {
		closeDescriptor(h)
		return -1
	}
	p.fds[fd] = h
	return fd
}

// Close implements CLOSE(fd).
func (p *Process) Close(fd int) {
	if fd < 2 || fd >= maxFDs {
		return
	}
	closeDescriptor(p.fds[fd])
	p.fds[fd] = nil
}

// descriptor returns the fd's handle, or an error if fd is out of
// range, unopened, or reserved for console I/O.
func (p *Process) descriptor(fd int) (any, error) {
	if fd < 2 || fd >= maxFDs || p.fds[fd] == nil {
		return nil, fmt.Errorf("process: bad file descriptor %d", fd)
	}
	return p.fds[fd], nil
}

// Filesize implements FILESIZE(fd) -> size, returning 0 on a missing
// or non-file fd.
func (p *Process) Filesize(fd int) int64 {
	h, err := p.descriptor(fd)
	if err != nil {
		return 0
	}
	inode, ok := h.(*fs.Inode)
	if !ok {
		return 0
	}
	return inode.Length()
}

// Read implements READ(fd,buf,size) -> n, returning -1 on a missing or
// non-file fd.
func (p *Process) Read(fd int, buf []byte, offset *int64) int {
	h, err := p.descriptor(fd)
	if err != nil {
		return -1
	}
	inode, ok := h.(*fs.Inode)
	if !ok {
		return -1
	}
	n, err := inode.ReadAt(buf, *offset)
	if err != nil {
		return -1
	}
	*offset += int64(n)
	return n
}

// Write implements WRITE(fd,buf,size) -> n, returning -1 on a missing
// or non-file fd.
func (p *Process) Write(fd int, buf []byte, offset *int64) int {
	h, err := p.descriptor(fd)
	if err != nil {
		return -1
	}
	inode, ok := h.(*fs.Inode)
	if !ok {
		return -1
	}
	n, err := inode.WriteAt(buf, *offset)
	if err != nil {
		return -1
	}
	*offset += int64(n)
	return n
}

// IsDir implements ISDIR(fd) -> bool.
func (p *Process) IsDir(fd int) bool {
	h, err := p.descriptor(fd)
	if err != nil {
		return false
	}
	_, isDir := h.(*fs.Dir)
	return isDir
}

// Readdir implements READDIR(fd,name_buf) -> bool.
func (p *Process) Readdir(fd int) (string, bool) {
	h, err := p.descriptor(fd)
	if err != nil {
		return "", false
	}
	dir, ok := h.(*fs.Dir)
	if !ok {
		return "", false
	}
	name, ok, rerr := dir.Readdir()
	if rerr != nil {
		return "", false
	}
	return name, ok
}

// Inumber implements INUMBER(fd) -> sector, returning 0 on a missing
// fd.
func (p *Process) Inumber(fd int) uint32 {
	h, err := p.descriptor(fd)
	if err != nil {
		return 0
	}
	switch v := h.(type) {
	case *fs.Inode:
		return v.Sector()
	case *fs.Dir:
		return v.Inode().Sector()
	default:
		return 0
	}
}

// Mmap implements MMAP(fd,addr) -> map_id, mapping the open file at
// fd into the process's address space starting at addr. It returns
// -1 on failure (bad fd, a directory fd, or an overlapping region).
func (p *Process) Mmap(fd int, addr uintptr) int {
	h, err := p.descriptor(fd)
	if err != nil {
		return -1
	}
	inode, ok := h.(*fs.Inode)
	if !ok {
		return -1
	}
	internalID, err := p.AS.Mmap(inode, addr, int(inode.Length()))
	if err != nil {
		return -1
	}
	return p.RegisterMmap(internalID)
}

// Munmap implements MUNMAP(map_id).
func (p *Process) Munmap(id int) {
	internalID, ok := p.MapIDFor(id)
	if !ok {
		return
	}
	p.AS.Munmap(internalID)
	p.UnregisterMmap(id)
}

// RegisterMmap records mapID as an active mapping, for teardown on
// Munmap or process exit.
func (p *Process) RegisterMmap(mapID string) int {
	id := p.nextMap
	p.mmaps[id] = mapID
	p.nextMap++
	return id
}

// MapIDFor resolves a syscall-visible map id (the index returned by
// RegisterMmap) to vm's internal mapping id.
func (p *Process) MapIDFor(id int) (string, bool) {
	mapID, ok := p.mmaps[id]
	return mapID, ok
}

// UnregisterMmap drops a previously registered mapping by its
// syscall-visible id.
func (p *Process) UnregisterMmap(id int) {
	delete(p.mmaps, id)
}
