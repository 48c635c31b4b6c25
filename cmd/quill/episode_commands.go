package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/library"
	"quill/internal/store"
)

func newEpisodesCommand(ctx *commandContext) *cobra.Command {
	var includeHidden bool
	cmd := &cobra.Command{
		Use:   "episodes <feed-id>",
		Short: "List a feed's episodes, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				feed, err := st.FeedByID(cmd.Context(), feedID)
				if err != nil {
					return err
				}
				if feed == nil {
					return fmt.Errorf("feed %d not found", feedID)
				}
				episodes, err := st.EpisodesByFeed(cmd.Context(), feedID, includeHidden)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(episodes) == 0 {
					fmt.Fprintf(out, "%s has no episodes\n", feed.DisplayTitle())
					return nil
				}

				rows := make([][]string, 0, len(episodes))
				for _, ep := range episodes {
					rows = append(rows, []string{
						strconv.FormatInt(ep.ID, 10),
						truncate(ep.Title, 56),
						formatDate(ep.Published),
						formatDuration(ep.Duration),
						episodeStatusLabel(ep),
					})
				}
				fmt.Fprintln(out, feed.DisplayTitle())
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Published", "Length", "Status"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeHidden, "all", false, "Include hidden episodes")
	return cmd
}

func episodeStatusLabel(ep *store.Episode) string {
	label := string(ep.Status)
	switch ep.Status {
	case store.EpisodeStarted:
		label = fmt.Sprintf("started at %s", formatDuration(ep.Position))
	case store.EpisodeError:
		if ep.ErrorCode != "" {
			label = "error: " + ep.ErrorCode
		}
	}
	if ep.Hidden {
		label += " (hidden)"
	}
	return label
}

func newMarkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <episode-id> <new|seen|finished>",
		Short: "Set an episode's listening status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := parseID(args[0], "episode")
			if err != nil {
				return err
			}
			status := store.EpisodeStatus(args[1])
			switch status {
			case store.EpisodeNew, store.EpisodeSeen, store.EpisodeFinished:
			default:
				return fmt.Errorf("invalid status %q (want new, seen, or finished)", args[1])
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.MarkEpisode(cmd.Context(), episodeID, status); err != nil {
					return episodeCommandError(err, episodeID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Episode %d marked %s\n", episodeID, status)
				return nil
			})
		},
	}
}

func newHideCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "hide <episode-id>",
		Short: "Hide an episode from listings",
		Args:  cobra.ExactArgs(1),
		RunE:  setHiddenRunE(ctx, true),
	}
}

func newUnhideCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unhide <episode-id>",
		Short: "Restore a hidden episode",
		Args:  cobra.ExactArgs(1),
		RunE:  setHiddenRunE(ctx, false),
	}
}

func setHiddenRunE(ctx *commandContext, hidden bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		episodeID, err := parseID(args[0], "episode")
		if err != nil {
			return err
		}
		return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
			if err := rt.library.HideEpisode(cmd.Context(), episodeID, hidden); err != nil {
				return episodeCommandError(err, episodeID)
			}
			verb := "hidden"
			if !hidden {
				verb = "visible again"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Episode %d %s\n", episodeID, verb)
			return nil
		})
	}
}

func episodeCommandError(err error, episodeID int64) error {
	if errors.Is(err, library.ErrEpisodeNotFound) {
		return fmt.Errorf("episode %d not found", episodeID)
	}
	return err
}
