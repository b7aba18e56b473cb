package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/TechnicallyShaun/idea-capture/internal/capture"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/pidfile"
)

// stopMargin is added to the configured shutdown grace before SIGKILL is sent,
// covering the work the service does after draining in-flight runs.
const stopMargin = 10 * time.Second

// ErrNotRunning indicates the capture service is not running
var ErrNotRunning = errors.New("capture service is not running")

// ErrStaleProcess indicates the PID file exists but the process is not running
var ErrStaleProcess = errors.New("stale PID file (process not running)")

// NewStopCmd creates the stop command
func NewStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the capture service",
		Long: `Stop the capture service.

Reads the PID from the state directory and sends SIGTERM for graceful shutdown.
If the process doesn't exit within watch.shutdown_grace_ms plus 10 seconds,
SIGKILL is sent to force termination.
The PID file is removed after the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			return runStop(cmd, pidfile.Path(cfg.Paths.LogDir), stopWait(cfg))
		},
	}
}

// stopWait is how long stop waits after SIGTERM before killing the service.
func stopWait(cfg *capture.Config) time.Duration {
	return cfg.Watch.ShutdownGrace() + stopMargin
}

func runStop(cmd *cobra.Command, pidPath string, timeout time.Duration) error {
	out := cmd.OutOrStdout()

	running, pid, err := pidfile.IsRunning(pidPath)
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	if pid == 0 {
		return ErrNotRunning
	}
	if !running {
		if _, err := pidfile.CleanStale(pidPath); err != nil {
			fmt.Fprintf(out, "Warning: failed to remove stale PID file: %v\n", err)
		}
		return ErrStaleProcess
	}

	fmt.Fprintf(out, "Stopping capture service (PID %d)...\n", pid)

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	if !waitForExit(pid, timeout) {
		fmt.Fprintln(out, "Process did not exit gracefully, sending SIGKILL...")
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("send SIGKILL: %w", err)
		}
		waitForExit(pid, 2*time.Second)
	}

	// A killed service cannot clean up after itself.
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(out, "Warning: failed to remove PID file: %v\n", err)
	}

	fmt.Fprintln(out, "Capture service stopped")
	return nil
}

// waitForExit polls until the process exits or timeout is reached
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	pollInterval := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}
