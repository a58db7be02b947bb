package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"exchangesync/internal/config"
	"exchangesync/internal/utils"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			if err := config.WriteSample(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Sample config written to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit the 'work' backend, then store its password:")
			fmt.Fprintln(cmd.OutOrStdout(), "  exchangesync credentials set work --prompt")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Long: `Print the configuration after environment overrides
(EXCHANGESYNC_*) are applied. Passwords and client secrets are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetConfig()
			if err != nil {
				return err
			}
			if jsonOut {
				return utils.WriteJSON(cmd.OutOrStdout(), cfg.Redacted())
			}
			return utils.WriteYAML(cmd.OutOrStdout(), cfg.Redacted())
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of YAML")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
