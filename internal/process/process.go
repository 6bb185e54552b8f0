// Package process implements the process lifecycle contract of
// spawn/wait/exit and the per-process file descriptor table that sits
// behind the syscall gate. The ELF loader, argument marshalling, and
// user-memory validation that would sit in front of it are out of
// scope: Syscall's pointer-bearing calls take already-validated Go
// values, and the caller is expected to have performed that
// validation (or to kill the process on failure) before dispatching.
package process

import (
	"fmt"

	"github.com/eduos-project/eduos/internal/fs"
	"github.com/eduos-project/eduos/internal/ksync"
	"github.com/eduos-project/eduos/internal/logger"
	"github.com/eduos-project/eduos/internal/thread"
	"github.com/eduos-project/eduos/internal/vm"
)

const maxFDs = 128

// childRecord is the bookkeeping a parent keeps for one spawned child,
// mirroring the wait-status handshake in spec §4.5.
type childRecord struct {
	tid      int
	waited   bool
	exited   bool
	exitCode int
	sema     *ksync.Semaphore
}

// Process is one user program's kernel-side state: its thread, address
// space, open file descriptors, and current directory.
type Process struct {
	Thread  *thread.Thread
	AS      *vm.AddressSpace
	Cwd     *fs.Dir
	Name    string
	Exited  bool // set by Exit; lets Kernel.Shutdown skip an already-torn-down process
	fds     [maxFDs]any // *fs.Inode, *fs.Dir (for ISDIR/READDIR), or nil
	mmaps   map[int]string
	nextMap int

	parent   *Process
	children map[int]*childRecord
	sched    *thread.Scheduler
}

// New constructs a Process for an already-created kernel thread.
func New(t *thread.Thread, as *vm.AddressSpace, cwd *fs.Dir, name string, sched *thread.Scheduler, parent *Process) *Process {
	return &Process{
		Thread:   t,
		AS:       as,
		Cwd:      cwd,
		Name:     name,
		mmaps:    make(map[int]string),
		children: make(map[int]*childRecord),
		sched:    sched,
		parent:   parent,
	}
}

// Spawn enrolls tid as a child of p before reporting success to the
// caller, mirroring the "enrolls a child-record before reporting
// success" ordering in spec §4.5.
func (p *Process) Spawn(tid int) {
	p.children[tid] = &childRecord{tid: tid, sema: ksync.NewSemaphore(p.sched, 0)}
}

// Wait blocks until child tid exits, returning its exit status. It
// returns -1 if tid is not a recorded child or has already been
// waited on.
func (p *Process) Wait(tid int) int {
	rec, ok := p.children[tid]
	if !ok || rec.waited {
		return -1
	}
	rec.waited = true
	rec.sema.Down()
	status := rec.exitCode
	delete(p.children, tid)
	return status
}

// Exit records code for collection by a waiting parent (if any),
// prints the required console line, and tears down every open fd and
// mapping. The caller is responsible for terminating the underlying
// kernel thread afterward.
func (p *Process) Exit(code int) {
	fmt.Printf("%s: exit(%d)\n", p.Name, code)
	p.Exited = true
	p.teardown()
	if p.parent != nil {
		if rec, ok := p.parent.children[p.Thread.TID]; ok {
			rec.exited = true
			rec.exitCode = code
			rec.sema.Up()
		}
	}
}

// TeardownForShutdown releases every open fd and mapping without
// notifying a parent or printing the exit line, for processes still
// running when the kernel shuts down out from under them.
func (p *Process) TeardownForShutdown() {
	p.teardown()
}

func (p *Process) teardown() {
	for _, mapID := range p.mmaps {
		if err := p.AS.Munmap(mapID); err != nil {
			logger.Warnf("process: munmap during teardown of %s: %v", p.Name, err)
		}
	}
	for _, f := range p.fds {
		closeDescriptor(f)
	}
	if p.Cwd != nil {
		p.Cwd.Close()
	}
}

func closeDescriptor(f any) {
	switch v := f.(type) {
	case *fs.Inode:
		v.Close()
	case *fs.Dir:
		v.Close()
	}
}

// allocFD returns the lowest free descriptor above the reserved
// console fds 0/1, or -1 if the table is full.
func (p *Process) allocFD() int {
	for i := 2; i < maxFDs; i++ {
		if p.fds[i] == nil {
			return i
		}
	}
	return -1
}
