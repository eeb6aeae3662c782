package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"subsync/internal/ledger"
	"subsync/internal/reconcile"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and rebuild the local ledger",
	}

	ledgerCmd.AddCommand(newLedgerUpdateCommand(ctx))
	ledgerCmd.AddCommand(newLedgerRebuildCommand(ctx))
	ledgerCmd.AddCommand(newLedgerExportCommand(ctx))
	ledgerCmd.AddCommand(newLedgerStatsCommand(ctx))

	return ledgerCmd
}

func newLedgerUpdateCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "update [source...]",
		Short: "Fold new and changed on-disk evidence into the catalog",
		Long: "Scans the archives, media, subtitles, and metadata sidecars and updates " +
			"only the catalog rows with new evidence. Never deletes anything; an empty " +
			"catalog triggers a full rebuild instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(ctx, cmd, args, dryRun, false)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	return cmd
}

func newLedgerRebuildCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "rebuild [source...]",
		Short: "Rebuild the catalog from scratch and prune rows with no local evidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(ctx, cmd, args, dryRun, true)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	return cmd
}

func runReconcile(ctx *commandContext, cmd *cobra.Command, args []string, dryRun, full bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.logger()
	if err != nil {
		return err
	}
	sources, err := cfg.SelectSources(args)
	if err != nil {
		return err
	}

	run := func() error {
		store, err := ctx.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reconciler := reconcile.New(cfg, store, logger, reconcile.WithDryRun(dryRun))
		out := cmd.OutOrStdout()
		for _, src := range sources {
			var summary *reconcile.Summary
			if full {
				summary, err = reconciler.Full(cmd.Context(), src)
			} else {
				summary, err = reconciler.Incremental(cmd.Context(), src)
			}
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", src.ID, err)
			}
			fmt.Fprintf(out, "%s: %s pass scanned %d item(s), updated %d, pruned %d\n",
				summary.SourceID, summary.Mode, summary.Scanned, summary.Upserted, summary.Pruned)
		}
		if dryRun {
			fmt.Fprintln(out, "Dry run: the ledger was not modified")
		}
		return nil
	}

	if dryRun {
		return run()
	}
	return ctx.withLock(run)
}

func newLedgerExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog as CSV",
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

			target := strings.TrimSpace(output)
			if target == "-" {
				return store.ExportCSV(cmd.Context(), cmd.OutOrStdout())
			}
			if target == "" {
				target = cfg.LedgerCSV
			}
			if target == "" {
				return fmt.Errorf("no export path: set ledger_csv in config or pass --output")
			}
			if err := store.ExportCSVFile(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote catalog export to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path, or - for stdout")
	return cmd
}

func newLedgerStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-source catalog and retry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.SourceStatsAll(cmd.Context())
			if err != nil {
				return err
			}
			printSourceStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

var platformTitle = cases.Title(language.Und)

func printSourceStats(out io.Writer, stats []ledger.SourceStats) {
	headers := []string{"Source", "Platform", "Videos", "With subs", "With meta", "Pending retry", "Last synced"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(stats))
	for _, st := range stats {
		lastSynced := st.LastSyncedAt
		if lastSynced == "" {
			lastSynced = "never"
		}
		rows = append(rows, []string{
			st.SourceID,
			platformTitle.String(st.Platform),
			strconv.Itoa(st.Videos),
			strconv.Itoa(st.WithSubtitles),
			strconv.Itoa(st.WithMetadata),
			strconv.Itoa(st.PendingRetry),
			lastSynced,
		})
	}
	renderTable(out, headers, rows, aligns)
}
