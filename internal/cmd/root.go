package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/idea-capture/internal/capture"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

// NewRootCmd creates the root command for the idea CLI
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "idea",
		Short: "Turn synced voice memos into text notes",
		Long: `idea-capture watches a landing folder for voice memos synced from a phone,
waits until each recording has finished syncing, transcribes it, tidies the
transcript into bullet points with a local language model and writes the
result to a notes folder.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default $"+capture.ConfigEnv+" or "+capture.DefaultConfigPath+")")

	rootCmd.AddCommand(NewRunCmd(opts))
	rootCmd.AddCommand(NewStopCmd(opts))
	rootCmd.AddCommand(NewStatusCmd(opts))
	rootCmd.AddCommand(NewCheckCmd(opts))
	rootCmd.AddCommand(NewRetryCmd(opts))
	rootCmd.AddCommand(NewInitCmd(opts, nil))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// load reads and validates the configuration.
func (o *rootOptions) load() (*capture.Config, string, error) {
	path := capture.ResolvePath(o.configPath)
	cfg, err := capture.Load(path)
	if err != nil {
		if capture.IsNotExist(err) {
			return nil, path, fmt.Errorf("no configuration at %s (run `idea init` to create one)", path)
		}
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, path, nil
}
