package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/idea-capture/internal/capture"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/preflight"
)

// ErrChecksFailed is returned when at least one startup check fails.
var ErrChecksFailed = errors.New("one or more checks failed")

// NewCheckCmd creates the check command
func NewCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the startup checks without starting the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := capture.NewService(cfg, capture.WithLogger(logging.Nop()))
			if err != nil {
				return err
			}
			defer svc.Close()

			results := svc.Preflight(cmd.Context())
			out := cmd.OutOrStdout()
			color := shouldColorize(out)

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				mark := colorize("ok", ansiGreen, color)
				if !r.Passed {
					mark = colorize("FAIL", ansiRed, color)
				}
				rows = append(rows, []string{r.Name, mark, r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows))

			if preflight.Failed(results) {
				return ErrChecksFailed
			}
			return nil
		},
	}
}
