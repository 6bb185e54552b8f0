package bootscript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eduos-project/eduos/cfg"
	"github.com/eduos-project/eduos/internal/kernel"
)

func TestLoadParsesYAMLScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.yaml")
	contents := `
name: greeter
steps:
  - op: create
    path: hello.txt
    size: 0
  - op: exit
    size: 0
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	script, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if script.Name != "greeter" {
		t.Fatalf("script.Name = %q, want greeter", script.Name)
	}
	if len(script.Steps) != 2 {
		t.Fatalf("len(script.Steps) = %d, want 2", len(script.Steps))
	}
}

func TestLoadDefaultsUnnamedScriptToMain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.yaml")
	os.WriteFile(path, []byte("steps:\n  - op: exit\n    size: 0\n"), 0o644)

	script, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if script.Name != "main" {
		t.Fatalf("script.Name = %q, want main", script.Name)
	}
}

func TestRunExecutesStepsAndReturnsExitCode(t *testing.T) {
	k, err := kernel.Boot(cfg.Default())
	if err != nil {
		t.Fatalf("kernel.Boot() error = %v", err)
	}

	script := &Script{
		Name: "prog",
		Steps: []Step{
			{Op: "create", Path: "hello.txt"},
			{Op: "open", Path: "hello.txt"},
			{Op: "write", FD: 2, Data: "hi"},
			{Op: "close", FD: 2},
			{Op: "exit", Size: 5},
		},
	}

	code, err := Run(k, script)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 5 {
		t.Fatalf("Run() exit code = %d, want 5", code)
	}

	root, err := k.FS.OpenRoot()
	if err != nil {
		t.Fatalf("OpenRoot() error = %v", err)
	}
	defer root.Close()
	inode, err := k.FS.Open("hello.txt", root)
	if err != nil {
		t.Fatalf("expected hello.txt to have been created, Open() error = %v", err)
	}
	inode.Close()
}

func TestRunStopsAtFirstExitStep(t *testing.T) {
	k, err := kernel.Boot(cfg.Default())
	if err != nil {
		t.Fatalf("kernel.Boot() error = %v", err)
	}

	script := &Script{
		Name: "early-exit",
		Steps: []Step{
			{Op: "exit", Size: 9},
			{Op: "create", Path: "never-created.txt"},
		},
	}

	code, err := Run(k, script)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 9 {
		t.Fatalf("Run() exit code = %d, want 9", code)
	}

	root, _ := k.FS.OpenRoot()
	defer root.Close()
	if _, err := k.FS.Open("never-created.txt", root); err == nil {
		t.Fatal("expected the step after exit to have been skipped")
	}
}
