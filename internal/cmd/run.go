package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/idea-capture/internal/capture"
)

// NewRunCmd creates the run command
func NewRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture service in the foreground",
		Long: `Run the capture service in the foreground.

Startup checks run first; the service refuses to start if a folder is missing
or a collaborator is unreachable. The service runs until interrupted with
Ctrl+C or SIGTERM, then gives in-flight recordings the configured grace period
to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.load()
			if err != nil {
				return err
			}

			svc, err := capture.NewService(cfg)
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config:  %s\n", path)
			fmt.Fprintf(out, "Landing: %s\n", cfg.Paths.LandingDir)
			fmt.Fprintf(out, "Staging: %s\n", cfg.Paths.StagingDir)
			fmt.Fprintf(out, "Output:  %s\n", cfg.Paths.OutputDir)
			fmt.Fprintln(out, "Press Ctrl+C to stop")
			fmt.Fprintln(out)

			return svc.Run(cmd.Context())
		},
	}
}
