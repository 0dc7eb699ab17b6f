package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"rehearse/internal/journal"
	"rehearse/internal/services"
	"rehearse/internal/upload"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var sel itemSelector

	cmd := &cobra.Command{
		Use:   "submit <recording>",
		Short: "Upload an existing recording for a practice item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := artifactFromFile(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			session, item, err := resolveItem(cmd.Context(), client, sel)
			if err != nil {
				return err
			}

			var res upload.Result
			err = ctx.withJournal(func(store *journal.Store) error {
				orchestrator := upload.New(client, upload.WithJournal(store), upload.WithLogger(ctx.log()))
				task := upload.NewTask(session.ID, item, artifact)
				res = orchestrator.Submit(cmd.Context(), task, upload.State{Session: session, Item: item})
				return nil
			})
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), res)
			if res.Outcome == upload.OutcomeFailed {
				return fmt.Errorf("submission failed: %w", res.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sel.sessionID, "session", "s", "", "Practice session ID")
	cmd.Flags().StringVarP(&sel.itemID, "item", "i", "", "Item ID (defaults to the first item without a recording)")
	cmd.Flags().IntVar(&sel.index, "index", -1, "Item index within the session")
	return cmd
}

func printOutcome(out io.Writer, res upload.Result) {
	colorize := shouldColorize(out)
	kind := statusOK
	switch res.Outcome {
	case upload.OutcomeDeferred, upload.OutcomeIgnored:
		kind = statusWarn
	case upload.OutcomeFailed:
		kind = statusError
	}

	message := res.Message
	switch res.Outcome {
	case upload.OutcomeAdvanced:
		message = fmt.Sprintf("next item %d: %s", res.State.Item.Index+1, res.State.Item.Prompt)
	case upload.OutcomeCompleted:
		message = "session complete"
		if res.Redirect != "" {
			message += " (next: " + res.Redirect + ")"
		}
	case upload.OutcomeIgnored:
		message = "another submission is in progress"
	}
	fmt.Fprintln(out, renderStatusLine(labelFor(string(res.Outcome)), kind, message, colorize))

	if res.Outcome == upload.OutcomeFailed && res.Recovery != services.RecoveryNone {
		fmt.Fprintln(out, renderStatusLine("Next step", statusInfo, labelFor(string(res.Recovery)), colorize))
	}
	if res.Submitted {
		fmt.Fprintln(out, renderStatusLine("Progress", statusInfo,
			fmt.Sprintf("%d of %d items submitted", res.State.Session.CompletedItems, res.State.Session.TotalItems), colorize))
	}
}
