package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"exchangesync/internal/app"
	"exchangesync/internal/cli"
	"exchangesync/internal/config"
	"exchangesync/internal/utils"
)

type rootOptions struct {
	configPath string
	verbose    bool
	backend    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "exchangesync",
		Short: "Flagged e-mails and calendar from Exchange on the command line",
		Long: `exchangesync reads flagged e-mails as tasks and calendar appointments from
an Exchange server over EWS, mirrors them into a local SQLite database and
follows task changes live through a streaming subscription.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.configPath != "" {
				config.SetCustomConfigPath(opts.configPath)
			}
			utils.SetVerboseMode(opts.verbose)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file or directory (default $XDG_CONFIG_HOME/exchangesync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&opts.backend, "backend", "b", "", "backend to use (default: default_backend from config)")
	_ = rootCmd.RegisterFlagCompletionFunc("backend", cli.BackendCompletion(configuredBackendNames))

	rootCmd.AddCommand(
		newBackendsCmd(opts),
		newTasksCmd(opts),
		newCompleteCmd(opts, true),
		newCompleteCmd(opts, false),
		newDueCmd(opts),
		newAppointmentsCmd(opts),
		newPullCmd(opts),
		newEventsCmd(opts),
		newWatchCmd(opts),
		newExportCmd(opts),
		newCredentialsCmd(),
		newConfigCmd(),
	)

	return rootCmd
}

// openApp loads the config and selects the backend chosen with --backend
func (o *rootOptions) openApp() (*app.App, error) {
	return app.NewApp(o.backend)
}

func configuredBackendNames() []string {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newBackendsCmd(opts *rootOptions) *cobra.Command {
	var jsonOut, yamlOut bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := utils.OutputFormatFromFlags(jsonOut, yamlOut)
			if err != nil {
				return err
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			switch format {
			case utils.FormatJSON:
				return utils.WriteJSON(out, a.Backends())
			case utils.FormatYAML:
				return utils.WriteYAML(out, a.Backends())
			}
			a.ListBackends(out)
			return nil
		},
	}

	addOutputFlags(cmd, &jsonOut, &yamlOut)
	return cmd
}

func addOutputFlags(cmd *cobra.Command, jsonOut, yamlOut *bool) {
	cmd.Flags().BoolVar(jsonOut, "json", false, "output as JSON")
	cmd.Flags().BoolVar(yamlOut, "yaml", false, "output as YAML")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
