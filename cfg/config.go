// Package cfg holds the kernel's boot-time configuration, loaded by
// viper from a YAML file and/or flags bound by cobra in cmd/eduosd.
package cfg

import (
	"fmt"
)

const (
	SchedulerPriority = "priority"
	SchedulerMLFQS    = "mlfqs"
)

// SchedulerConfig selects the scheduling policy of §4.1.
type SchedulerConfig struct {
	Mode        string `mapstructure:"mode" yaml:"mode"`
	TimerFreqHz int    `mapstructure:"timer-freq-hz" yaml:"timer-freq-hz"`
}

// DiskConfig sizes the simulated filesystem and swap devices.
type DiskConfig struct {
	Sectors     int     `mapstructure:"sectors" yaml:"sectors"`
	SwapSectors int     `mapstructure:"swap-sectors" yaml:"swap-sectors"`
	IOPSLimit   float64 `mapstructure:"iops-limit" yaml:"iops-limit"`
}

// CacheConfig sizes the block cache of §4.4.
type CacheConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// VMConfig sizes the simulated physical memory of §4.3: the frame
// table holds exactly FrameCount frames, so allocation past that count
// forces eviction.
type VMConfig struct {
	FrameCount int `mapstructure:"frame-count" yaml:"frame-count"`
}

// LogRotateConfig mirrors logger.RotateConfig for viper binding.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `mapstructure:"max-file-size-mb" yaml:"max-file-size-mb"`
	BackupFileCount int  `mapstructure:"backup-file-count" yaml:"backup-file-count"`
	Compress        bool `mapstructure:"compress" yaml:"compress"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Severity string          `mapstructure:"severity" yaml:"severity"`
	Format   string          `mapstructure:"format" yaml:"format"`
	FilePath string          `mapstructure:"file-path" yaml:"file-path"`
	Rotate   LogRotateConfig `mapstructure:"rotate" yaml:"rotate"`
}

// Config is the top-level boot configuration for a Kernel.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Disk      DiskConfig      `mapstructure:"disk" yaml:"disk"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	VM        VMConfig        `mapstructure:"vm" yaml:"vm"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// Default returns the configuration the CLI falls back to when no
// config file or flags override a field.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{Mode: SchedulerPriority, TimerFreqHz: 100},
		Disk:      DiskConfig{Sectors: 16640, SwapSectors: 4096, IOPSLimit: 5000},
		Cache:     CacheConfig{Capacity: 64},
		VM:        VMConfig{FrameCount: 256},
		Logging:   LoggingConfig{Severity: "INFO", Format: "json"},
	}
}

// Validate rejects configuration combinations the kernel cannot boot
// with, the same role the teacher's cfg.Config.Validate plays.
func (c Config) Validate() error {
	switch c.Scheduler.Mode {
	case SchedulerPriority, SchedulerMLFQS:
	default:
		return fmt.Errorf("cfg: unknown scheduler mode %q", c.Scheduler.Mode)
	}
	if c.Scheduler.TimerFreqHz <= 0 {
		return fmt.Errorf("cfg: scheduler.timer-freq-hz must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cfg: cache.capacity must be positive")
	}
	if c.VM.FrameCount <= 0 {
		return fmt.Errorf("cfg: vm.frame-count must be positive")
	}
	if c.Disk.Sectors <= 0 || c.Disk.SwapSectors <= 0 {
		return fmt.Errorf("cfg: disk.sectors and disk.swap-sectors must be positive")
	}
	if c.Disk.IOPSLimit <= 0 {
		return fmt.Errorf("cfg: disk.iops-limit must be positive")
	}
	return nil
}
