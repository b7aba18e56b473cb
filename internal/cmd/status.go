package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/pidfile"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/status"
)

// NewStatusCmd creates the status command
func NewStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service state and today's activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color := shouldColorize(out)

			running, pid, err := pidfile.IsRunning(pidfile.Path(cfg.Paths.LogDir))
			if err != nil {
				return err
			}
			if running {
				fmt.Fprintf(out, "Service: %s (PID %d)\n", colorize("running", ansiGreen, color), pid)
			} else {
				fmt.Fprintf(out, "Service: %s\n", colorize("stopped", ansiRed, color))
			}

			stats, err := status.ParseLogFile(status.TodayLogPath(cfg.Paths.LogDir, time.Now()))
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			dirs := status.Snapshot(status.Dirs{
				Landing:  cfg.Paths.LandingDir,
				Staging:  cfg.Paths.StagingDir,
				Patterns: cfg.Watch.Patterns,
			})

			last := "-"
			if stats.LastProcessed != nil {
				last = fmt.Sprintf("%s (%s)", status.BaseName(stats.LastProcessed.Output),
					status.FormatTimestamp(stats.LastProcessed.Timestamp))
			}

			rows := [][]string{
				{"Notes written today", strconv.Itoa(stats.NotesWritten)},
				{"Failed runs today", strconv.Itoa(stats.Failures)},
				{"Errors today", strconv.Itoa(stats.Errors)},
				{"Last note", last},
				{"Waiting in landing", strconv.Itoa(dirs.Landing)},
				{"Waiting in staging", strconv.Itoa(dirs.Staging)},
				{"Failed in staging", strconv.Itoa(dirs.Failed)},
			}
			fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows))
			return nil
		},
	}
}
