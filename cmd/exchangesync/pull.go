package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"exchangesync/internal/utils"
)

const shutdownTimeout = 10 * time.Second

func newPullCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Copy tasks and appointments into the mirror backend",
		Long: `Fetch all flagged e-mails and the calendar window from the selected
backend and replace the contents of the mirror backend with them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.SelectedBackend() == a.Config().MirrorBackend {
				return fmt.Errorf("backend %q is the mirror itself, select the Exchange backend to pull from", a.SelectedBackend())
			}
			if err := a.StartMetrics(); err != nil {
				return err
			}

			coordinator, err := a.Coordinator()
			if err != nil {
				return err
			}
			defer coordinator.Shutdown(shutdownTimeout)

			result, err := coordinator.Pull(cmd.Context())
			if err != nil {
				return backendFailure(a.SelectedBackend(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pulled %s into %s\n", result, a.Config().MirrorBackend)
			return nil
		},
	}
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit            int
		jsonOut, yamlOut bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show task changes journaled by watch",
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

			mirror, err := a.Mirror()
			if err != nil {
				return err
			}
			events, err := mirror.TaskEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case utils.FormatJSON:
				return utils.WriteJSON(out, events)
			case utils.FormatYAML:
				return utils.WriteYAML(out, events)
			}

			if len(events) == 0 {
				fmt.Fprintln(out, "No task changes recorded")
				return nil
			}
			dateFormat := a.Config().GetDateFormat()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RECEIVED\tSTATUS\tDUE\tNAME")
			for _, e := range events {
				status := "open"
				if e.Completed {
					status = "done"
				}
				due := "-"
				if e.DueDate != nil {
					due = e.DueDate.Format(dateFormat)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ReceivedAt.Local().Format(dateFormat+" 15:04:05"), status, due, e.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of changes to show")
	addOutputFlags(cmd, &jsonOut, &yamlOut)
	return cmd
}
