package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"subsync/internal/ledger"
)

func newDownloadsCommand(ctx *commandContext) *cobra.Command {
	downloadsCmd := &cobra.Command{
		Use:   "downloads",
		Short: "Inspect download runs and pending retries",
	}

	downloadsCmd.AddCommand(newDownloadsRunsCommand(ctx))
	downloadsCmd.AddCommand(newDownloadsRetriesCommand(ctx))

	return downloadsCmd
}

func newDownloadsRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent downloader invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

func newDownloadsRetriesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retries [source]",
		Short: "Show items waiting on retry backoff",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sourceID := ""
			if len(args) == 1 {
				sourceID = args[0]
			}
			retries, err := store.PendingRetries(cmd.Context(), sourceID)
			if err != nil {
				return err
			}
			base := time.Duration(cfg.Retry.BackoffBaseSeconds) * time.Second
			cap := time.Duration(cfg.Retry.BackoffCapSeconds) * time.Second
			printRetries(cmd.OutOrStdout(), retries, base, cap)
			return nil
		},
	}
	return cmd
}

func printRuns(out io.Writer, runs []*ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No download runs recorded")
		return
	}

	headers := []string{"Started", "Source", "Stage", "Requested", "OK", "Failed", "Exit", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		exit := "open"
		if run.Finished() && run.ExitCode != nil {
			exit = strconv.Itoa(*run.ExitCode)
		}
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.SourceID,
			string(run.Stage),
			strconv.Itoa(run.ItemsRequested),
			strconv.Itoa(run.ItemsSucceeded),
			strconv.Itoa(run.ItemsFailed),
			exit,
			truncate(run.ErrorMessage, 48),
		})
	}
	renderTable(out, headers, rows, aligns)
}

func printRetries(out io.Writer, retries []*ledger.RetryState, base, cap time.Duration) {
	if len(retries) == 0 {
		fmt.Fprintln(out, "No pending retries")
		return
	}

	headers := []string{"Source", "Stage", "Video", "Attempts", "Last failure", "Next retry", "Last error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}

	now := time.Now()
	rows := make([][]string, 0, len(retries))
	for _, retry := range retries {
		nextRetry := "due"
		if at := retry.UpdatedAt.Add(ledger.Backoff(retry.RetryCount, base, cap)); at.After(now) {
			nextRetry = "in " + time.Until(at).Round(time.Minute).String()
		}
		rows = append(rows, []string{
			retry.SourceID,
			string(retry.Stage),
			retry.VideoID,
			strconv.Itoa(retry.RetryCount),
			formatAge(retry.UpdatedAt),
			nextRetry,
			truncate(retry.LastError, 48),
		})
	}
	renderTable(out, headers, rows, aligns)
}

func formatAge(at time.Time) string {
	if at.IsZero() {
		return ""
	}
	age := time.Since(at)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
