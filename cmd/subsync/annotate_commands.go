package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"subsync/internal/ledger"
)

type videoGetter interface {
	GetVideo(ctx context.Context, videoID string) (*ledger.Video, error)
}

func newAnnotateCommand(ctx *commandContext) *cobra.Command {
	annotateCmd := &cobra.Command{
		Use:   "annotate",
		Short: "Manage favorites, notes, and subtitle bookmarks",
		Long: "Annotations live outside the rebuildable catalog: they survive ledger " +
			"rebuilds as long as the annotated video still exists locally.",
	}

	annotateCmd.AddCommand(newFavoriteCommand(ctx))
	annotateCmd.AddCommand(newFavoritesCommand(ctx))
	annotateCmd.AddCommand(newNoteCommand(ctx))
	annotateCmd.AddCommand(newBookmarkCommand(ctx))

	return annotateCmd
}

func newFavoriteCommand(ctx *commandContext) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "favorite <video-id>",
		Short: "Mark or unmark a video as a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			videoID := args[0]
			if err := requireVideo(cmd, store, videoID); err != nil {
				return err
			}
			if err := store.SetFavorite(cmd.Context(), videoID, !remove); err != nil {
				return err
			}
			if remove {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed favorite %s\n", videoID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Favorited %s\n", videoID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the favorite instead of adding it")
	return cmd
}

func newFavoritesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "favorites",
		Short: "List favorited videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.FavoriteIDs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "No favorites")
				return nil
			}
			for _, id := range ids {
				line := id
				if video, err := store.GetVideo(cmd.Context(), id); err == nil && video != nil && video.Title != "" {
					line = fmt.Sprintf("%s  %s", id, video.Title)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newNoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "note <video-id> [text...]",
		Short: "Attach a note to a video; omit the text to clear it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			videoID := args[0]
			if err := requireVideo(cmd, store, videoID); err != nil {
				return err
			}
			note := strings.TrimSpace(strings.Join(args[1:], " "))
			if err := store.SetNote(cmd.Context(), videoID, note); err != nil {
				return err
			}
			if note == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared note on %s\n", videoID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Noted %s\n", videoID)
			}
			return nil
		},
	}
}

func newBookmarkCommand(ctx *commandContext) *cobra.Command {
	var languageFlag string

	cmd := &cobra.Command{
		Use:   "bookmark <video-id> <position>",
		Short: "Bookmark a position in a video's subtitles (e.g. 1m30s)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			videoID := args[0]
			if err := requireVideo(cmd, store, videoID); err != nil {
				return err
			}
			position, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("parse position %q: %w", args[1], err)
			}
			if position < 0 {
				return fmt.Errorf("position %q is negative", args[1])
			}
			if err := store.AddBookmark(cmd.Context(), videoID, languageFlag, position.Milliseconds()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bookmarked %s at %s\n", videoID, position)
			return nil
		},
	}

	cmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Subtitle language the bookmark refers to")
	return cmd
}

func requireVideo(cmd *cobra.Command, store videoGetter, videoID string) error {
	video, err := store.GetVideo(cmd.Context(), videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("video %s is not in the catalog; run `subsync ledger update` first", videoID)
	}
	return nil
}
