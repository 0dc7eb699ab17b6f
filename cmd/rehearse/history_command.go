package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"rehearse/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		sessionID string
		limit     int
		polls     bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded submissions and result polls",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := journal.Filter{SessionID: sessionID, Limit: limit}
			out := cmd.OutOrStdout()
			return ctx.withJournal(func(store *journal.Store) error {
				if polls {
					return printPolls(cmd.Context(), out, store, filter)
				}
				subs, err := store.Submissions(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(subs) == 0 {
					fmt.Fprintln(out, "No submissions recorded")
					return nil
				}
				rows := make([][]string, 0, len(subs))
				for _, s := range subs {
					rows = append(rows, []string{
						s.CreatedAt.Local().Format(time.DateTime),
						s.SessionID,
						s.ItemID,
						s.Endpoint,
						labelFor(s.Outcome),
						strconv.FormatInt(s.ArtifactBytes, 10),
						s.Message,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"When", "Session", "Item", "Endpoint", "Outcome", "Bytes", "Message"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Only show this session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&polls, "polls", false, "Show result polls instead of submissions")
	return cmd
}

func printPolls(ctx context.Context, out io.Writer, store *journal.Store, filter journal.Filter) error {
	records, err := store.Polls(ctx, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No result polls recorded")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		detail := r.ResultURL
		if detail == "" {
			detail = r.Message
		}
		rows = append(rows, []string{
			r.CreatedAt.Local().Format(time.DateTime),
			r.SessionID,
			r.ItemID,
			labelFor(r.Status),
			strconv.Itoa(r.Attempts),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"When", "Session", "Item", "Status", "Attempts", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return nil
}
