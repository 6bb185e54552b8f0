package fs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/eduos-project/eduos/clock"
	"github.com/eduos-project/eduos/internal/metrics"
)

const defaultRootEntries = 16

// FileSystem is the top-level filesystem: a cache-backed disk, a
// sector allocator, and the index of currently-open inodes, mirroring
// filesys_init/filesys_done plus the struct inode open_inodes list.
type FileSystem struct {
	mu         sync.Mutex
	disk       BlockDevice
	cache      *Cache
	freeMap    *freeMap
	openInodes map[uint32]*Inode
}

// Format lays down a fresh free map and an empty root directory on
// disk, mirroring filesys_init(format=true).
func Format(disk BlockDevice, clk clock.Clock, cacheCapacity int, m *metrics.Registry) (*FileSystem, error) {
	fsys := &FileSystem{
		disk:       disk,
		cache:      NewCache(cacheCapacity, disk, clk, m),
		freeMap:    newFreeMap(disk.SectorCount()),
		openInodes: make(map[uint32]*Inode),
	}
	if err := fsys.createDir(rootDirSector, defaultRootEntries); err != nil {
		return nil, fmt.Errorf("fs: formatting root directory: %w", err)
	}
	return fsys, nil
}

// Shutdown flushes every dirty cache entry to disk, mirroring
// filesys_done's buffer cache flush.
func (fsys *FileSystem) Shutdown() {
	fsys.cache.Flush()
}

// splitPath separates a path into its parent directory's component
// names and the final (file or directory) component, mirroring the
// cooperating roles of dir_from_path and dir_last_dir.
func splitPath(path string) (dirParts []string, last string) {
	parts := strings.Split(path, "/")
	var clean []string
	for _, p := range parts {
		if p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		return nil, ""
	}
	return clean[:len(clean)-1], clean[len(clean)-1]
}

// resolveDir walks dirParts from cwd (or the root, if path is absolute
// or cwd is nil), honoring "." and ".." components.
func (fsys *FileSystem) resolveDir(path string, cwd *Dir, dirParts []string) (*Dir, error) {
	var dir *Dir
	var err error
	if strings.HasPrefix(path, "/") || cwd == nil {
		dir, err = fsys.OpenRoot()
	} else {
		dir, err = fsys.reopenDir(cwd)
	}
	if err != nil {
		return nil, err
	}

	for _, part := range dirParts {
		switch part {
		case ".":
			continue
		case "..":
			parentInode, err := dir.Parent()
			if err != nil {
				dir.Close()
				return nil, err
			}
			dir.Close()
			dir = openDir(parentInode)
		default:
			inode, err := dir.Lookup(part)
			if err != nil {
				dir.Close()
				return nil, err
			}
			if inode.IsFile() {
				inode.Close()
				dir.Close()
				return nil, fmt.Errorf("fs: %q is not a directory", part)
			}
			dir.Close()
			dir = openDir(inode)
		}
	}
	return dir, nil
}

func (fsys *FileSystem) reopenDir(d *Dir) (*Dir, error) {
	inode, err := fsys.openInode(d.inode.sector)
	if err != nil {
		return nil, err
	}
	return openDir(inode), nil
}

// Create creates a new, empty file named by path (relative to cwd
// unless absolute), of the given initial size.
func (fsys *FileSystem) Create(path string, cwd *Dir, initialSize int64) error {
	dirParts, name := splitPath(path)
	if name == "" {
		return fmt.Errorf("fs: empty file name")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("fs: %q is not a valid file name", name)
	}
	dir, err := fsys.resolveDir(path, cwd, dirParts)
	if err != nil {
		return err
	}
	defer dir.Close()

	sector, ok := fsys.freeMap.allocate()
	if !ok {
		return fmt.Errorf("fs: disk full")
	}
	if err := fsys.createInode(sector, initialSize, true); err != nil {
		fsys.freeMap.release(sector)
		return err
	}
	if err := dir.Add(name, sector); err != nil {
		fsys.freeMap.release(sector)
		return err
	}
	return nil
}

// Mkdir creates a new, empty subdirectory named by path.
func (fsys *FileSystem) Mkdir(path string, cwd *Dir) error {
	dirParts, name := splitPath(path)
	if name == "" {
		return fmt.Errorf("fs: empty directory name")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("fs: %q is not a valid directory name", name)
	}
	dir, err := fsys.resolveDir(path, cwd, dirParts)
	if err != nil {
		return err
	}
	defer dir.Close()

	sector, ok := fsys.freeMap.allocate()
	if !ok {
		return fmt.Errorf("fs: disk full")
	}
	if err := fsys.createDir(sector, defaultRootEntries); err != nil {
		fsys.freeMap.release(sector)
		return err
	}
	if err := dir.Add(name, sector); err != nil {
		fsys.freeMap.release(sector)
		return err
	}
	return nil
}

// Open resolves path to its Inode, opening it. An empty final
// component opens the root directory; "." at the resolved directory
// opens that directory itself; ".." opens its parent, mirroring filesys_open's dir_is_root/
// strcmp special-cases rather than falling through to a literal
// dir.Lookup of "." or "..".
func (fsys *FileSystem) Open(path string, cwd *Dir) (*Inode, error) {
	dirParts, name := splitPath(path)
	if name == "" {
		return fsys.openInode(rootDirSector)
	}
	dir, err := fsys.resolveDir(path, cwd, dirParts)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	switch name {
	case "..":
		return dir.Parent()
	case ".":
		return fsys.openInode(dir.Inode().sector)
	default:
		return dir.Lookup(name)
	}
}

// OpenDir resolves path to a directory and opens it for Readdir.
func (fsys *FileSystem) OpenDir(path string, cwd *Dir) (*Dir, error) {
	inode, err := fsys.Open(path, cwd)
	if err != nil {
		return nil, err
	}
	if inode.IsFile() {
		inode.Close()
		return nil, fmt.Errorf("fs: %q is not a directory", path)
	}
	return openDir(inode), nil
}

// Remove deletes the file or empty directory named by path.
func (fsys *FileSystem) Remove(path string, cwd *Dir) error {
	dirParts, name := splitPath(path)
	if name == "" {
		return fmt.Errorf("fs: cannot remove the root directory")
	}
	dir, err := fsys.resolveDir(path, cwd, dirParts)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Remove(name)
}
