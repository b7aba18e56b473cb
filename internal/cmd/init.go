package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/idea-capture/internal/capture"
)

// ErrConfigExists is returned when init would overwrite a config file.
var ErrConfigExists = errors.New("configuration already exists (use --force to overwrite)")

// NewInitCmd creates the init command. A nil prompter reads from stdin.
func NewInitCmd(opts *rootOptions, prompter Prompter) *cobra.Command {
	var force, interactive bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		Long: `Create a configuration file.

By default an annotated sample is written for editing. With --interactive the
required folders and model are asked for and a ready-to-run file is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := capture.ResolvePath(opts.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s: %w", path, ErrConfigExists)
			}

			if interactive {
				p := prompter
				if p == nil {
					p = NewStdinPrompter()
				}
				return runInteractiveInit(cmd, p, path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(path, capture.SampleConfig(), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask for the required settings")
	return cmd
}

func runInteractiveInit(cmd *cobra.Command, prompter Prompter, path string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Idea Capture Configuration")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out, "")

	cfg := capture.Default()

	var err error
	if cfg.Paths.LandingDir, err = promptRequired(prompter, "Landing folder (synced voice memos) [required]: "); err != nil {
		return err
	}
	if cfg.Paths.StagingDir, err = promptRequired(prompter, "Staging folder [required]: "); err != nil {
		return err
	}
	if cfg.Paths.OutputDir, err = promptRequired(prompter, "Notes output folder [required]: "); err != nil {
		return err
	}
	if cfg.Transcriber.Model, err = promptRequired(prompter, "Whisper model file [required]: "); err != nil {
		return err
	}
	if cfg.Formatter.Endpoint, err = promptDefault(prompter,
		fmt.Sprintf("Ollama endpoint [default: %s]: ", capture.DefaultFormatterEndpoint),
		capture.DefaultFormatterEndpoint); err != nil {
		return err
	}
	if cfg.Notify.Endpoint, err = prompter.Prompt("ntfy topic URL [optional, Enter to skip]: "); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Configuration saved to %s\n", path)
	return nil
}
