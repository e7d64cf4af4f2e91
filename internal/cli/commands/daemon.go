package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cowfs/internal/daemon"
	"cowfs/internal/storage"
	"cowfs/internal/util"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon management commands",
	Long:  `Commands for controlling the cowfs daemon that holds the block pool.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Starts the cowfs daemon in the background.

The pool is sized from ~/.cowfs/settings.yaml, overridden by COWFS_BLOCK_SIZE,
COWFS_MAX_BLOCKS, COWFS_MAX_INODES and COWFS_COMPRESSION when set.`,
	Args: cobra.NoArgs,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Stops the running cowfs daemon. All pool contents are discarded.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Shows whether the daemon is running and the settings it starts with.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure daemon settings",
	Long: `Configure persistent daemon settings.

Settings are stored in ~/.cowfs/settings.yaml. The log level is applied to a
running daemon immediately; pool settings take effect on the next start or
on 'cowfs reset'.

Examples:
  # Enable trace logging
  cowfs daemon config --logging trace

  # Disable logging
  cowfs daemon config --logging none

  # Use a pool of 256 blocks of 1 KiB, stored with snappy
  cowfs daemon config --max-blocks 256 --block-size 1024 --compression snappy

  # Show current configuration
  cowfs daemon config`,
	Args: cobra.NoArgs,
	RunE: runDaemonConfig,
}

var daemonForeground bool
var daemonLogLevel string
var daemonRestart bool
var daemonSkipCleanup bool

var configLogLevel string
var configBlockSize int
var configMaxBlocks int
var configMaxInodes int
var configCompression string

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "Run in foreground")
	daemonStartCmd.Flags().StringVar(&daemonLogLevel, "logging", "", "Log level for this run only: trace, debug, info, warn, none")
	daemonStartCmd.Flags().BoolVar(&daemonRestart, "restart", false, "Restart daemon if already running (no confirmation)")
	daemonStartCmd.Flags().BoolVar(&daemonSkipCleanup, "skip-cleanup", false, "Skip removal of stale pid and socket files")
	daemonConfigCmd.Flags().StringVar(&configLogLevel, "logging", "", "Log level: trace, debug, info, warn, none")
	daemonConfigCmd.Flags().IntVar(&configBlockSize, "block-size", 0, "Payload bytes per block")
	daemonConfigCmd.Flags().IntVar(&configMaxBlocks, "max-blocks", 0, "Number of blocks in the pool")
	daemonConfigCmd.Flags().IntVar(&configMaxInodes, "max-inodes", 0, "Reported inode capacity")
	daemonConfigCmd.Flags().StringVar(&configCompression, "compression", "", "Payload codec: none, snappy")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonConfigCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()

		if !daemonRestart {
			fmt.Fprintf(out, "Daemon already running (PID %d)\n", pid)
			fmt.Fprintln(out, "Use --restart to restart the daemon")
			return nil
		}
		fmt.Fprintf(out, "Daemon already running (PID %d), restarting...\n", pid)
		if err := stopDaemonAndWait(contextOrBackground(cmd), out); err != nil {
			return fmt.Errorf("failed to stop daemon for restart: %w", err)
		}
	}

	if daemonForeground {
		d := daemon.New()
		d.LogLevel = daemonLogLevel
		d.SkipCleanup = daemonSkipCleanup
		return d.Run()
	}

	exe, err := util.GetExecutablePath()
	if err != nil {
		return err
	}

	// The background process runs "daemon start --foreground" and inherits
	// the environment, including COWFS_CONFIG_DIR and pool overrides.
	cmdArgs := []string{"daemon", "start", "--foreground"}
	if daemonLogLevel != "" {
		cmdArgs = append(cmdArgs, "--logging", daemonLogLevel)
	}
	if daemonSkipCleanup {
		cmdArgs = append(cmdArgs, "--skip-cleanup")
	}
	if _, err := util.StartBackgroundProcess(exe, cmdArgs, nil); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	cfg := util.FastPollConfig()
	if err := util.PollUntil(contextOrBackground(cmd), cfg, daemon.IsDaemonRunning); err != nil {
		return fmt.Errorf("daemon did not start")
	}
	pid, _ := daemon.GetPID()
	fmt.Fprintf(out, "Daemon started (PID %d)\n", pid)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !daemon.IsDaemonRunning() {
		fmt.Fprintln(out, "Daemon not running")
		// Still do cleanup in case there are stale artifacts
		if result := daemon.CleanupStale(); result.CleanedPidFile || result.CleanedSocket {
			fmt.Fprintln(out, daemon.FormatCleanupResult(result))
		}
		return nil
	}

	if err := stopDaemonAndWait(contextOrBackground(cmd), out); err != nil {
		return err
	}

	fmt.Fprintln(out, "Daemon stopped")
	return nil
}

// stopDaemonAndWait asks the daemon to stop and waits for its socket to
// go away, killing the process if it does not stop in time.
func stopDaemonAndWait(ctx context.Context, out io.Writer) error {
	pid, _ := daemon.GetPID()

	gracefulStop := func() error {
		client, err := daemon.Connect()
		if err != nil {
			fmt.Fprintln(out, "Warning: could not connect to daemon, forcing stop")
			return err
		}
		defer client.Close()
		resp, err := client.Stop()
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("%s", resp.Error)
		}
		return nil
	}

	cfg := util.ProcessConfig{}
	if err := util.StopProcess(ctx, pid, cfg, gracefulStop, daemon.IsDaemonRunning); err != nil {
		return err
	}

	daemon.CleanupStale()
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	settings, err := daemon.EffectiveSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()
		fmt.Fprintf(out, "Daemon: running (PID %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Daemon: not running")
	}
	printSettings(out, settings)
	return nil
}

// printSettings prints the log level and pool geometry
func printSettings(out io.Writer, settings *daemon.GlobalSettings) {
	fmt.Fprintf(out, "Log level: %s\n", displayLogLevel(settings.LogLevel))
	fmt.Fprintf(out, "Pool: %d blocks x %s (%s total), max inodes %d, compression %s\n",
		settings.Pool.MaxBlocks,
		formatBytes(int64(settings.Pool.BlockSize)),
		formatBytes(int64(settings.Pool.MaxBlocks)*int64(settings.Pool.BlockSize)),
		settings.Pool.MaxInodes,
		settings.Pool.Compression)
}

func displayLogLevel(level string) string {
	if level == "" {
		return "none"
	}
	return level
}

func runDaemonConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	flags := cmd.Flags()
	poolChanged := flags.Changed("block-size") || flags.Changed("max-blocks") ||
		flags.Changed("max-inodes") || flags.Changed("compression")

	if !flags.Changed("logging") && !poolChanged {
		fmt.Fprintln(out, "Current daemon configuration:")
		printSettings(out, settings)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "To change settings:")
		fmt.Fprintln(out, "  cowfs daemon config --logging <level>")
		fmt.Fprintln(out, "  cowfs daemon config --max-blocks <n> --block-size <bytes> --max-inodes <n> --compression <none|snappy>")
		return nil
	}

	if poolChanged {
		if err := handlePoolConfig(out, settings, flags.Changed); err != nil {
			return err
		}
	}

	if flags.Changed("logging") {
		if err := handleLoggingConfig(out, settings, configLogLevel); err != nil {
			return err
		}
	}

	return nil
}

// handlePoolConfig applies the pool flags that were set, validates the
// result and saves it. The running daemon picks it up on reset.
func handlePoolConfig(out io.Writer, settings *daemon.GlobalSettings, changed func(string) bool) error {
	next := *settings
	if changed("block-size") {
		next.Pool.BlockSize = configBlockSize
	}
	if changed("max-blocks") {
		next.Pool.MaxBlocks = configMaxBlocks
	}
	if changed("max-inodes") {
		next.Pool.MaxInodes = configMaxInodes
	}
	if changed("compression") {
		c, err := storage.ParseCompression(configCompression)
		if err != nil {
			return err
		}
		next.Pool.Compression = string(c)
	}
	if _, err := next.EngineConfig(); err != nil {
		return fmt.Errorf("invalid pool settings: %w", err)
	}

	*settings = next
	if err := daemon.SaveGlobalSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	fmt.Fprintf(out, "Pool set to %d blocks x %d bytes, max inodes %d, compression %s\n",
		settings.Pool.MaxBlocks, settings.Pool.BlockSize, settings.Pool.MaxInodes, settings.Pool.Compression)
	if daemon.IsDaemonRunning() {
		fmt.Fprintln(out, "Run 'cowfs reset' or 'cowfs daemon start --restart' to apply it")
	}
	return nil
}

// handleLoggingConfig handles the --logging flag
func handleLoggingConfig(out io.Writer, settings *daemon.GlobalSettings, value string) error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "none": true, "": true,
	}
	normalizedLevel := strings.ToLower(value)
	if normalizedLevel == "off" {
		normalizedLevel = "none"
	}
	if !validLevels[normalizedLevel] {
		return fmt.Errorf("invalid log level %q: must be one of trace, debug, info, warn, none", value)
	}

	if normalizedLevel == "none" {
		settings.LogLevel = ""
	} else {
		settings.LogLevel = normalizedLevel
	}

	if err := daemon.SaveGlobalSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	fmt.Fprintf(out, "Log level set to: %s\n", displayLogLevel(settings.LogLevel))

	// If daemon is running, notify it to reload config
	if daemon.IsDaemonRunning() {
		client, err := daemon.Connect()
		if err == nil {
			if err := client.ReloadConfig(); err != nil {
				fmt.Fprintf(out, "Note: Failed to notify daemon: %v\n", err)
				fmt.Fprintln(out, "Restart the daemon for the new log level to take effect:")
				fmt.Fprintln(out, "  cowfs daemon start --restart")
			} else {
				fmt.Fprintln(out, "Daemon notified to reload configuration")
			}
			client.Close()
		}
	}

	return nil
}

// contextOrBackground returns the command context, which is nil when a
// command is run outside Execute.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
