package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect practice sessions",
	}
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	return sessionCmd
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the items of a session and their recording state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			session, err := client.Session(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}

			out := cmd.OutOrStdout()
			title := session.Title
			if title == "" {
				title = session.ID
			}
			fmt.Fprintf(out, "%s: %d of %d items submitted (complete: %s)\n",
				title, session.CompletedItems, session.TotalItems, yesNo(session.IsCompleted))

			rows := make([][]string, 0, len(session.Items))
			for _, item := range session.Items {
				rows = append(rows, []string{
					strconv.Itoa(item.Index + 1),
					item.ID,
					item.Prompt,
					yesNo(item.IsCompleted),
					item.ResultURL,
				})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Item", "Prompt", "Recorded", "Result"},
					rows,
					[]columnAlignment{alignRight},
				))
			}
			return nil
		},
	}
}
