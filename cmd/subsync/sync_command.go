package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"subsync/internal/reconcile"
	syncpkg "subsync/internal/sync"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var skipMedia, skipSubs, skipMeta bool
	var skipLedger, fullLedger bool

	cmd := &cobra.Command{
		Use:   "sync [source...]",
		Short: "Download new media, subtitles, and metadata for the configured sources",
		Long: "Runs the three acquisition stages for each source, retries items whose " +
			"backoff has elapsed, repairs silent downloads, and refreshes the ledger " +
			"catalog from the new evidence.",
		RunE: func(cmd *cobra.Command, args []string) error {
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

				client, err := ctx.downloader()
				if err != nil {
					return err
				}
				prober, err := ctx.prober()
				if err != nil {
					return err
				}

				synchronizer := syncpkg.New(cfg, store, client, prober, logger,
					syncpkg.WithDryRun(dryRun),
					syncpkg.WithSkipStages(skipMedia, skipSubs, skipMeta))
				summaries, err := synchronizer.SyncAll(cmd.Context(), sources)
				if err != nil {
					return err
				}

				if !dryRun && !skipLedger {
					reconciler := reconcile.New(cfg, store, logger)
					for _, src := range sources {
						if fullLedger {
							_, err = reconciler.Full(cmd.Context(), src)
						} else {
							_, err = reconciler.Incremental(cmd.Context(), src)
						}
						if err != nil {
							return fmt.Errorf("refresh catalog for %s: %w", src.ID, err)
						}
					}
					if cfg.LedgerCSV != "" {
						if err := store.ExportCSVFile(cmd.Context(), cfg.LedgerCSV); err != nil {
							return fmt.Errorf("export ledger CSV: %w", err)
						}
					}
				}

				printSyncSummaries(cmd.OutOrStdout(), summaries, dryRun)
				return nil
			}

			if dryRun {
				return run()
			}
			return ctx.withLock(run)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan every stage without downloading or writing state")
	cmd.Flags().BoolVar(&skipMedia, "skip-media", false, "Skip the media stage")
	cmd.Flags().BoolVar(&skipSubs, "skip-subs", false, "Skip the subtitle stage")
	cmd.Flags().BoolVar(&skipMeta, "skip-meta", false, "Skip the metadata stage")
	cmd.Flags().BoolVar(&skipLedger, "skip-ledger", false, "Skip the catalog refresh after the stages")
	cmd.Flags().BoolVar(&fullLedger, "full-ledger", false, "Run a full catalog rebuild instead of the incremental pass")
	return cmd
}

func printSyncSummaries(out io.Writer, summaries []*syncpkg.SourceSummary, dryRun bool) {
	headers := []string{"Source", "Stage", "New", "Retried", "Bootstrapped", "Deferred", "OK", "Failed"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}

	var rows [][]string
	for _, summary := range summaries {
		for _, stage := range summary.Stages {
			rows = append(rows, []string{
				summary.SourceID,
				string(stage.Stage),
				strconv.Itoa(stage.New),
				strconv.Itoa(stage.Retried),
				strconv.Itoa(stage.Bootstrapped),
				strconv.Itoa(stage.Deferred),
				strconv.Itoa(stage.Succeeded),
				strconv.Itoa(stage.Failed),
			})
		}
	}
	renderTable(out, headers, rows, aligns)

	for _, summary := range summaries {
		if summary.Repaired > 0 || summary.RepairFailed > 0 {
			fmt.Fprintf(out, "%s: repaired %d silent download(s), %d repair(s) failed\n",
				summary.SourceID, summary.Repaired, summary.RepairFailed)
		}
	}
	if dryRun {
		fmt.Fprintln(out, "Dry run: nothing was downloaded or recorded")
	}
}
