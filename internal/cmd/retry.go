package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/mover"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/staging"
)

// ErrNothingToRetry is returned when retry is given no names and no --all.
var ErrNothingToRetry = errors.New("name one or more failed recordings, or pass --all")

// NewRetryCmd creates the retry command
func NewRetryCmd(opts *rootOptions) *cobra.Command {
	var all, list bool

	cmd := &cobra.Command{
		Use:   "retry [name...]",
		Short: "Requeue recordings whose processing failed",
		Long: `Requeue recordings whose processing failed.

Failed recordings stay in the staging folder with a .failed suffix. Retrying
restores the original name so a running service processes them again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if list {
				failed, err := staging.ListFailed(cfg.Paths.StagingDir)
				if err != nil {
					return err
				}
				if len(failed) == 0 {
					fmt.Fprintln(out, "No failed recordings")
				}
				for _, f := range failed {
					fmt.Fprintln(out, filepath.Base(f))
				}
				return nil
			}

			if len(args) == 0 && !all {
				return ErrNothingToRetry
			}

			requeued, err := staging.Requeue(cmd.Context(), cfg.Paths.StagingDir, args, mover.New())
			for _, p := range requeued {
				fmt.Fprintf(out, "Requeued %s\n", filepath.Base(p))
			}
			if len(requeued) == 0 && err == nil {
				fmt.Fprintln(out, "No failed recordings")
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "requeue every failed recording")
	cmd.Flags().BoolVar(&list, "list", false, "list failed recordings without requeueing")
	return cmd
}
