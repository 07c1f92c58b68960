package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"deltaup/internal/history"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent update attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			inst, err := store.Installation()
			if err != nil {
				return err
			}
			journal, err := history.Open(cmd.Context(), historyPath(inst))
			if err != nil {
				return err
			}
			defer func() { _ = journal.Close() }()

			attempts, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(root.stdout, attempts)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of attempts to show")
	return cmd
}

func printHistory(w io.Writer, attempts []history.Attempt) {
	if len(attempts) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("no update attempts recorded"))
		return
	}
	for _, a := range attempts {
		status := string(a.Status)
		switch a.Status {
		case history.StatusApplied:
			status = successStyle.Render(status)
		case history.StatusFailed:
			status = errorStyle.Render(status)
		default:
			status = dimStyle.Render(status)
		}
		line := fmt.Sprintf("%s  %-10s %s", a.StartedAt.Local().Format("2006-01-02 15:04:05"), a.Version, status)
		if a.LastEntry != "" {
			line += dimStyle.Render(" last " + a.LastEntry)
		}
		_, _ = fmt.Fprintln(w, line)
		if a.Error != "" {
			_, _ = fmt.Fprintf(w, "    %s\n", a.Error)
		}
	}
}
