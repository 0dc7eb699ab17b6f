package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rehearse/internal/journal"
	"rehearse/internal/poller"
)

func newPollCommand(ctx *commandContext) *cobra.Command {
	var (
		sessionID string
		itemID    string
		attempts  int
		backoff   bool
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Wait for the derived result of a submitted item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" || itemID == "" {
				return fmt.Errorf("--session and --item are required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			policy := poller.ConfigFromConfig(cfg)
			if attempts > 0 {
				policy.MaxAttempts = attempts
			}
			if cmd.Flags().Changed("backoff") {
				policy.Backoff = backoff
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			return ctx.withJournal(func(store *journal.Store) error {
				supervisor := poller.NewSupervisor(client, policy,
					poller.WithJournal(store),
					poller.WithLogger(ctx.log()),
					poller.WithListener(func(s poller.State) {
						if s.Status == poller.StatusPending {
							fmt.Fprintln(out, renderStatusLine("Attempt", statusInfo,
								fmt.Sprintf("%d of %d: still processing", s.Attempt, policy.MaxAttempts), colorize))
						}
					}),
				)
				task := supervisor.Watch(runCtx, poller.Target{SessionID: sessionID, ItemID: itemID})
				<-task.Done()
				final := task.State()

				switch final.Status {
				case poller.StatusReady:
					fmt.Fprintln(out, renderStatusLine("Result", statusOK, final.URL, colorize))
				case poller.StatusExhausted:
					fmt.Fprintln(out, renderStatusLine("Result", statusWarn, "still processing; try again later", colorize))
				case poller.StatusCancelled:
					return runCtx.Err()
				case poller.StatusError:
					fmt.Fprintln(out, renderStatusLine("Result", statusError, final.Err.Error(), colorize))
					return fmt.Errorf("poll result: %w", final.Err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Practice session ID")
	cmd.Flags().StringVarP(&itemID, "item", "i", "", "Item ID")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Override the maximum number of attempts")
	cmd.Flags().BoolVar(&backoff, "backoff", false, "Double the interval after each attempt")
	return cmd
}
