// Package bootscript loads a YAML-described sequence of system calls
// to run on behalf of one simulated process, the instructional stand-
// in for `pintos -q run TEST`: rather than loading and executing a
// real ELF binary, a boot script names the syscalls to issue and in
// what order, against a freshly formatted disk.
package bootscript

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eduos-project/eduos/internal/kernel"
	"github.com/eduos-project/eduos/internal/logger"
	"github.com/eduos-project/eduos/internal/process"
)

// Step is one syscall invocation. Op selects the syscall and which of
// the other fields it reads; unused fields are left zero.
type Step struct {
	Op       string `yaml:"op"`
	Path     string `yaml:"path,omitempty"`
	Size     int64  `yaml:"size,omitempty"`
	Data     string `yaml:"data,omitempty"`
	FD       int    `yaml:"fd,omitempty"`
	Addr     uint64 `yaml:"addr,omitempty"`
	MapID    int    `yaml:"map-id,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
}

// Script is a named process's ordered list of syscall steps.
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load parses a boot script from path.
func Load(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootscript: reading %s: %w", path, err)
	}
	var s Script
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("bootscript: parsing %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = "main"
	}
	return &s, nil
}

// Run spawns one kernel process named by the script and executes its
// steps on that process's thread, returning once the process has
// exited. It returns the process's exit code.
func Run(k *kernel.Kernel, script *Script) (int, error) {
	exitCode := 0
	done := make(chan struct{})

	_, err := k.Spawn(script.Name, priorityOrDefault(script), nil, func(p *process.Process) {
		defer close(done)
		for _, step := range script.Steps {
			code, halt := execute(k, p, step)
			if halt {
				exitCode = code
				p.Exit(code)
				return
			}
		}
		p.Exit(exitCode)
	})
	if err != nil {
		return -1, err
	}

	// Create() only yields the caller when the caller is itself a
	// scheduled thread outranked by the new one; here the caller is this
	// bootstrap goroutine, standing in for the idle thread, so it must
	// explicitly hand off the CPU to let the spawned process actually
	// run to completion.
	k.Scheduler.Yield()
	<-done
	return exitCode, nil
}

func priorityOrDefault(s *Script) int {
	for _, step := range s.Steps {
		if step.Op == "set-priority" {
			return step.Priority
		}
	}
	return 31 // thread.PriDefault
}

// execute runs one step against p, returning (exit code, true) if the
// step was an EXIT — the caller stops after that.
func execute(k *kernel.Kernel, p *process.Process, step Step) (int, bool) {
	switch step.Op {
	case "create":
		if !p.Create(k.FS, step.Path, step.Size) {
			logger.Warnf("bootscript: create %q failed", step.Path)
		}
	case "mkdir":
		if !p.Mkdir(k.FS, step.Path) {
			logger.Warnf("bootscript: mkdir %q failed", step.Path)
		}
	case "remove":
		if !p.Remove(k.FS, step.Path) {
			logger.Warnf("bootscript: remove %q failed", step.Path)
		}
	case "chdir":
		if !p.Chdir(k.FS, step.Path) {
			logger.Warnf("bootscript: chdir %q failed", step.Path)
		}
	case "open":
		if fd := p.Open(k.FS, step.Path); fd < 0 {
			logger.Warnf("bootscript: open %q failed", step.Path)
		}
	case "write":
		offset := int64(0)
		if n := p.Write(step.FD, []byte(step.Data), &offset); n < 0 {
			logger.Warnf("bootscript: write to fd %d failed", step.FD)
		}
	case "read":
		buf := make([]byte, step.Size)
		offset := int64(0)
		p.Read(step.FD, buf, &offset)
	case "close":
		p.Close(step.FD)
	case "mmap":
		if id := p.Mmap(step.FD, uintptr(step.Addr)); id < 0 {
			logger.Warnf("bootscript: mmap fd %d failed", step.FD)
		}
	case "munmap":
		p.Munmap(step.MapID)
	case "exit":
		return int(step.Size), true
	case "set-priority":
		// consumed by priorityOrDefault before the thread starts.
	default:
		logger.Warnf("bootscript: unknown op %q", step.Op)
	}
	return 0, false
}
