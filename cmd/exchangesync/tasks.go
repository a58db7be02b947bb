package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"exchangesync/backend"
	"exchangesync/backend/exchange"
	"exchangesync/backend/sqlite"
	"exchangesync/internal/cli"
	"exchangesync/internal/utils"
)

func newTasksCmd(opts *rootOptions) *cobra.Command {
	var jsonOut, yamlOut, showIDs bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List flagged e-mails as tasks",
		Long: `List every flagged or completed e-mail of the mailbox as a task.

Examples:
  exchangesync tasks
  exchangesync tasks --ids
  exchangesync tasks --backend mirror --json`,
		Args: cobra.NoArgs,
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

			source, err := a.Source()
			if err != nil {
				return err
			}
			tasks, err := source.GetAllTasks(cmd.Context())
			if err != nil {
				return backendFailure(a.SelectedBackend(), fmt.Errorf("failed to get tasks: %w", err))
			}

			out := cmd.OutOrStdout()
			switch format {
			case utils.FormatJSON:
				return utils.WriteJSON(out, tasks)
			case utils.FormatYAML:
				return utils.WriteYAML(out, tasks)
			}
			cli.ShowTasks(out, tasks, a.Config().GetDateFormat(), showIDs)
			return nil
		},
	}

	addOutputFlags(cmd, &jsonOut, &yamlOut)
	cmd.Flags().BoolVar(&showIDs, "ids", false, "show item ids")
	return cmd
}

func newCompleteCmd(opts *rootOptions, completed bool) *cobra.Command {
	use, short := "complete <item-id>", "Mark a flagged e-mail as completed"
	if !completed {
		use, short = "reopen <item-id>", "Flag a completed e-mail again"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := utils.ValidateItemID(id); err != nil {
				return err
			}
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			source, err := a.Source()
			if err != nil {
				return err
			}
			task, err := lookupTask(cmd.Context(), source, id)
			if err != nil {
				return backendFailure(a.SelectedBackend(), err)
			}
			if task.Completed == completed {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to do: %s\n", task)
				return nil
			}

			task.Completed = completed
			if err := source.UpdateCompletedFlag(cmd.Context(), task); err != nil {
				return backendFailure(a.SelectedBackend(), fmt.Errorf("failed to update task: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated: %s\n", task)
			return nil
		},
	}
}

func newDueCmd(opts *rootOptions) *cobra.Command {
	var clearDue bool

	cmd := &cobra.Command{
		Use:   "due <item-id> [YYYY-MM-DD]",
		Short: "Set or clear the due date of a task",
		Long: `Set or clear the due date of a flagged e-mail.

Examples:
  exchangesync due AAMkAGI2... 2024-03-20
  exchangesync due AAMkAGI2... --clear`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := utils.ValidateItemID(id); err != nil {
				return err
			}
			if clearDue == (len(args) == 2) {
				return fmt.Errorf("either a date or --clear is required")
			}

			var dateStr string
			if len(args) == 2 {
				dateStr = args[1]
			}
			due, err := utils.ParseDateFlag(dateStr)
			if err != nil {
				return err
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			source, err := a.Source()
			if err != nil {
				return err
			}
			task, err := lookupTask(cmd.Context(), source, id)
			if err != nil {
				return backendFailure(a.SelectedBackend(), err)
			}

			task.DueDate = due
			if err := source.UpdateDueDate(cmd.Context(), task); err != nil {
				return backendFailure(a.SelectedBackend(), fmt.Errorf("failed to update due date: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated: %s\n", task)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearDue, "clear", false, "remove the due date")
	return cmd
}

type taskGetter interface {
	GetTask(ctx context.Context, id string) (backend.TaskDto, error)
}

// lookupTask fetches a single task, falling back to a full listing for
// backends without direct lookup
func lookupTask(ctx context.Context, source backend.Backend, id string) (backend.TaskDto, error) {
	if g, ok := source.(taskGetter); ok {
		task, err := g.GetTask(ctx, id)
		if isNotFound(err) {
			return task, utils.ErrItemNotFound(id)
		}
		return task, err
	}

	tasks, err := source.GetAllTasks(ctx)
	if err != nil {
		return backend.TaskDto{}, err
	}
	for _, task := range tasks {
		if task.ExchangeID == id {
			return task, nil
		}
	}
	return backend.TaskDto{}, utils.ErrItemNotFound(id)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sqlite.ErrNotFound) || errors.Is(err, exchange.ErrNotATask) {
		return true
	}
	var backendErr *backend.BackendError
	return errors.As(err, &backendErr) && backendErr.IsNotFound()
}

func newAppointmentsCmd(opts *rootOptions) *cobra.Command {
	var jsonOut, yamlOut bool

	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "List calendar appointments",
		Long: `List appointments in the configured calendar window
(calendar_window_months before and after today).`,
		Args: cobra.NoArgs,
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

			source, err := a.Source()
			if err != nil {
				return err
			}
			appointments, err := source.GetAllAppointments(cmd.Context())
			if err != nil {
				return backendFailure(a.SelectedBackend(), fmt.Errorf("failed to get appointments: %w", err))
			}

			out := cmd.OutOrStdout()
			switch format {
			case utils.FormatJSON:
				return utils.WriteJSON(out, appointments)
			case utils.FormatYAML:
				return utils.WriteYAML(out, appointments)
			}
			cli.ShowAppointments(out, appointments, a.Config().GetDateFormat())
			return nil
		},
	}

	addOutputFlags(cmd, &jsonOut, &yamlOut)
	return cmd
}
