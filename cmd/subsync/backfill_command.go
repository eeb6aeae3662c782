package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"subsync/internal/backfill"
	syncpkg "subsync/internal/sync"
)

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var reset bool
	var windows int

	cmd := &cobra.Command{
		Use:   "backfill [source...]",
		Short: "Walk a source's history window by window and acquire what current sync missed",
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

				if reset {
					for _, src := range sources {
						if err := store.ResetBackfillCursor(cmd.Context(), src.ID); err != nil {
							return fmt.Errorf("reset cursor for %s: %w", src.ID, err)
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s: backfill cursor cleared\n", src.ID)
					}
					return nil
				}

				client, err := ctx.downloader()
				if err != nil {
					return err
				}
				prober, err := ctx.prober()
				if err != nil {
					return err
				}

				synchronizer := syncpkg.New(cfg, store, client, prober, logger, syncpkg.WithDryRun(dryRun))
				runner := backfill.New(cfg, store, client, synchronizer, logger,
					backfill.WithDryRun(dryRun),
					backfill.WithWindowsPerRun(windows))
				summaries, err := runner.Run(cmd.Context(), sources)
				if err != nil {
					return err
				}
				printBackfillSummaries(cmd.OutOrStdout(), summaries)
				return nil
			}

			if dryRun {
				return run()
			}
			return ctx.withLock(run)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Discover windows without downloading or moving the cursor")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the backfill cursor so the next run starts over")
	cmd.Flags().IntVar(&windows, "windows", 0, "Override how many windows to scan this run")
	return cmd
}

func printBackfillSummaries(out io.Writer, summaries []*backfill.Summary) {
	for _, summary := range summaries {
		switch {
		case summary.Skipped:
			fmt.Fprintf(out, "%s: backfill disabled, skipped\n", summary.SourceID)
		case summary.DiscoveryFailed:
			fmt.Fprintf(out, "%s: discovery failed at index %d; cursor untouched, will retry next run\n",
				summary.SourceID, summary.NextStart)
		case summary.Completed:
			fmt.Fprintf(out, "%s: history exhausted after %d window(s), %d item(s) seen (next start %d)\n",
				summary.SourceID, summary.WindowsScanned, summary.ItemsSeen, summary.NextStart)
		default:
			fmt.Fprintf(out, "%s: scanned %d window(s), %d item(s) seen, resuming at index %d\n",
				summary.SourceID, summary.WindowsScanned, summary.ItemsSeen, summary.NextStart)
		}
	}
}
