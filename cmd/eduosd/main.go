// Command eduosd boots the kernel, optionally running a boot script,
// and offers an fsck diagnostic — the CLI shell around internal/kernel,
// grounded on the teacher's cobra-plus-viper root command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eduos-project/eduos/cfg"
	"github.com/eduos-project/eduos/internal/bootscript"
	"github.com/eduos-project/eduos/internal/kernel"
	"github.com/eduos-project/eduos/internal/logger"
)

var (
	cfgFile    string
	scriptFile string
)

var rootCmd = &cobra.Command{
	Use:   "eduosd",
	Short: "eduosd boots and inspects the instructional kernel",
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "boot the kernel, optionally running a boot script, then shut down",
	RunE:  runBoot,
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "format a disk image and report its sector count and read/write totals",
	RunE:  runFsck,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	bootCmd.Flags().StringVar(&scriptFile, "script", "", "path to a boot script to run before shutdown")
	rootCmd.AddCommand(bootCmd, fsckCmd)
}

func loadConfig() (cfg.Config, error) {
	c := cfg.Default()
	if cfgFile == "" {
		return c, nil
	}
	v := viper.New()
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("reading config file: %w", err)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("parsing config file: %w", err)
	}
	return c, nil
}

func runBoot(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.InitLogFile(logger.Config{
		Severity: c.Logging.Severity,
		Format:   c.Logging.Format,
		FilePath: c.Logging.FilePath,
		Rotate: logger.RotateConfig{
			MaxFileSizeMB:   c.Logging.Rotate.MaxFileSizeMB,
			BackupFileCount: c.Logging.Rotate.BackupFileCount,
			Compress:        c.Logging.Rotate.Compress,
		},
	}); err != nil {
		return fmt.Errorf("initializing log file: %w", err)
	}

	k, err := kernel.Boot(c)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	if scriptFile == "" {
		return nil
	}
	script, err := bootscript.Load(scriptFile)
	if err != nil {
		return err
	}
	code, err := bootscript.Run(k, script)
	if err != nil {
		return err
	}
	logger.Infof("eduosd: script %q exited with status %d", script.Name, code)
	return nil
}

func runFsck(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	k, err := kernel.Boot(c)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	reads, writes := k.Disk.Stats()
	fmt.Printf("eduosd fsck: %d sectors, %d reads, %d writes since format\n", k.Disk.SectorCount(), reads, writes)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
