package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or show the configuration",
	Long: `Manage assistant-llm configuration files.

Configuration can be saved to:
  - Global: ~/.assistant-llm.yaml (applies everywhere)
  - Project: ./assistant-llm.yaml (overrides the global file)`,
}

type configInitOptions struct {
	global bool
	force  bool
}

func newConfigInitCmd() *cobra.Command {
	opts := &configInitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectConfigPath()
			if configPath != "" {
				path = configPath
			}
			if opts.global {
				p, err := config.GlobalConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			return runConfigInit(cmd.OutOrStdout(), path, opts.force)
		},
	}

	cmd.Flags().BoolVar(&opts.global, "global", false, "Write ~/.assistant-llm.yaml instead of ./assistant-llm.yaml")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration",
		Long:  "Print the configuration after merging files, environment and flags. Inline api_key values are masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath, cliOverrides())
			if err != nil {
				return err
			}
			return runConfigShow(cmd.OutOrStdout(), cfg)
		},
	}
}

func init() {
	configCmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(w io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewInvalidConfigValueError("path", path, "file already exists, use --force to overwrite it")
	}

	cfg := config.DefaultConfig()
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s\n", color.GreenString("Wrote"), path)
	return nil
}

func runConfigShow(w io.Writer, cfg *config.Config) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
