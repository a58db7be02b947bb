package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"exchangesync/backend"
	"exchangesync/internal/ics"
	"exchangesync/internal/utils"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		outPath      string
		includeTasks bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export appointments (and tasks) as iCalendar",
		Long: `Write the calendar window as an iCalendar file. Appointments become
VEVENTs; with --tasks flagged e-mails are added as VTODOs.

Examples:
  exchangesync export --out calendar.ics
  exchangesync export --tasks --backend mirror > all.ics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			source, err := a.Source()
			if err != nil {
				return err
			}
			appointments, err := source.GetAllAppointments(cmd.Context())
			if err != nil {
				return backendFailure(a.SelectedBackend(), fmt.Errorf("failed to get appointments: %w", err))
			}
			var tasks []backend.TaskDto
			if includeTasks {
				tasks, err = source.GetAllTasks(cmd.Context())
				if err != nil {
					return backendFailure(a.SelectedBackend(), fmt.Errorf("failed to get tasks: %w", err))
				}
			}

			var buf bytes.Buffer
			if err := ics.Encode(&buf, appointments, tasks, time.Now()); err != nil {
				if errors.Is(err, ics.ErrNothingToExport) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Nothing to export: no appointments or tasks found")
					return nil
				}
				return fmt.Errorf("failed to encode calendar: %w", err)
			}

			if outPath == "" || outPath == "-" {
				_, err := buf.WriteTo(cmd.OutOrStdout())
				return err
			}
			path, err := utils.ExpandPath(outPath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			utils.Infof("Exported %d appointments and %d tasks to %s", len(appointments), len(tasks), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&includeTasks, "tasks", false, "include flagged e-mails as VTODOs")
	return cmd
}
