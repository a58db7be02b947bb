package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"exchangesync/backend"
	"exchangesync/backend/exchange"
	"exchangesync/internal/cli"
	"exchangesync/internal/utils"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow task changes through a streaming subscription",
		Long: `Open a streaming subscription on the Exchange mailbox and show every
flagged e-mail that changes. Changes are journaled to the mirror backend
when one is configured. The connection is re-established automatically.

Output is an interactive view on a terminal, or one tab-separated line per
change with --plain or when stdout is not a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.StartMetrics(); err != nil {
				return err
			}
			eb, err := a.Exchange()
			if err != nil {
				return err
			}
			coordinator, err := a.Coordinator()
			if err != nil {
				return err
			}
			defer coordinator.Shutdown(shutdownTimeout)

			dateFormat := a.Config().GetDateFormat()
			interactive := !plain && term.IsTerminal(int(os.Stdout.Fd()))

			var program *tea.Program
			if interactive {
				program = tea.NewProgram(cli.NewWatchModel(a.SelectedBackend(), dateFormat), tea.WithContext(ctx))
				coordinator.AddObserver(backend.TaskObserverFunc(func(task backend.TaskDto) {
					program.Send(cli.TaskEventMsg{Task: task, At: time.Now()})
				}))
			} else {
				out := cmd.OutOrStdout()
				coordinator.AddObserver(backend.TaskObserverFunc(func(task backend.TaskDto) {
					cli.PrintTaskEvent(out, cli.TaskEventMsg{Task: task, At: time.Now()}, dateFormat)
				}))
			}
			eb.AddTaskEventListener(coordinator)

			sub, err := eb.Subscribe(ctx)
			if err != nil {
				return backendFailure(a.SelectedBackend(), fmt.Errorf("failed to subscribe: %w", err))
			}
			defer sub.Close()
			utils.Infof("Subscribed to %s (%s)", a.SelectedBackend(), sub.ID())

			if !interactive {
				return backendFailure(a.SelectedBackend(), followPlain(ctx, sub))
			}

			go forwardSubscription(ctx, sub, program)
			if _, err := program.Run(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per change instead of the interactive view")
	return cmd
}

// followPlain logs subscription errors until the context ends or the
// subscription stops on its own, in which case the last error is returned
func followPlain(ctx context.Context, sub *exchange.Subscription) error {
	var last error
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			last = err
			utils.Warnf("Subscription: %v", err)
		case <-sub.Done():
			if ctx.Err() != nil {
				return nil
			}
			// Errors is closed before Done; pick up what is still buffered
			if errs != nil {
				for err := range errs {
					last = err
				}
			}
			if last != nil {
				return fmt.Errorf("subscription stopped: %w", last)
			}
			return fmt.Errorf("subscription stopped")
		}
	}
}

func forwardSubscription(ctx context.Context, sub *exchange.Subscription, program *tea.Program) {
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			program.Quit()
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			program.Send(cli.WatchErrMsg{Err: err})
		case <-sub.Done():
			if ctx.Err() != nil {
				program.Quit()
				return
			}
			program.Send(cli.WatchDoneMsg{})
			return
		}
	}
}
