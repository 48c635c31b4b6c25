package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/events"
	"quill/internal/library"
	"quill/internal/store"
)

// updateOutcome is one feed's terminal update event.
type updateOutcome struct {
	feedID      int64
	newEpisodes int
	code        string
	failed      bool
}

// awaitUpdates drains the bus until want feeds have reported a terminal
// update event. The subscription must predate the scheduling call or
// fast feeds can finish unobserved.
func awaitUpdates(ctx context.Context, evts <-chan events.Event, want int) ([]updateOutcome, error) {
	outcomes := make([]updateOutcome, 0, want)
	for len(outcomes) < want {
		select {
		case evt, ok := <-evts:
			if !ok {
				return outcomes, errors.New("event bus closed before all updates finished")
			}
			switch e := evt.(type) {
			case events.FeedUpdateFinished:
				outcomes = append(outcomes, updateOutcome{feedID: e.FeedID, newEpisodes: e.NewEpisodes})
			case events.FeedUpdateFailed:
				outcomes = append(outcomes, updateOutcome{feedID: e.FeedID, code: e.Code, failed: true})
			}
		case <-ctx.Done():
			return outcomes, ctx.Err()
		}
	}
	return outcomes, nil
}

// updateDeadline bounds the wait for n scheduled fetches.
func updateDeadline(rt *runtime, n int) time.Duration {
	perFetch := time.Duration(rt.cfg.Fetch.TimeoutSeconds) * time.Second
	waves := (n + rt.cfg.Fetch.Concurrency - 1) / rt.cfg.Fetch.Concurrency
	return time.Duration(waves+2) * perFetch
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>",
		Short: "Subscribe to a feed and fetch it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				evts, cancel := rt.bus.SubscribeBuffer(1024)
				defer cancel()

				feed, err := rt.library.AddFeed(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, store.ErrDuplicateSource) {
						return fmt.Errorf("already subscribed to %s", args[0])
					}
					return err
				}

				waitCtx, stop := context.WithTimeout(cmd.Context(), updateDeadline(rt, 1))
				defer stop()
				outcomes, err := awaitUpdates(waitCtx, evts, 1)
				if err != nil {
					return fmt.Errorf("feed %d added but its first update did not finish: %w", feed.ID, err)
				}

				out := cmd.OutOrStdout()
				o := outcomes[0]
				if o.failed {
					fmt.Fprintf(out, "Subscribed to feed %d, but the first fetch failed (%s)\n", feed.ID, o.code)
					return nil
				}
				updated, err := rt.store.FeedByID(cmd.Context(), feed.ID)
				if err != nil || updated == nil {
					updated = feed
				}
				fmt.Fprintf(out, "Subscribed to %s (feed %d): %d episodes\n", updated.DisplayTitle(), feed.ID, o.newEpisodes)
				return nil
			})
		},
	}
}

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <feed-id> <url>",
		Short: "Merge an archive document into an existing feed",
		Long:  "Fetches an auxiliary feed document and merges its episodes into the subscription without touching the feed's source URL or metadata.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				evts, cancel := rt.bus.SubscribeBuffer(1024)
				defer cancel()

				if err := rt.library.AddArchive(cmd.Context(), feedID, args[1]); err != nil {
					return err
				}

				waitCtx, stop := context.WithTimeout(cmd.Context(), updateDeadline(rt, 1))
				defer stop()
				outcomes, err := awaitUpdates(waitCtx, evts, 1)
				if err != nil {
					return err
				}
				o := outcomes[0]
				if o.failed {
					return fmt.Errorf("archive fetch failed (%s)", o.code)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Merged archive into feed %d: %d new episodes\n", feedID, o.newEpisodes)
				return nil
			})
		},
	}
}

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update [feed-id]",
		Short: "Fetch new episodes for one feed or every enabled feed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				evts, cancel := rt.bus.SubscribeBuffer(1024)
				defer cancel()

				scheduled := 0
				if len(args) == 1 {
					feedID, err := parseID(args[0], "feed")
					if err != nil {
						return err
					}
					if err := rt.library.UpdateFeed(cmd.Context(), feedID); err != nil {
						return err
					}
					scheduled = 1
				} else {
					n, err := rt.library.UpdateAll(cmd.Context())
					if err != nil {
						return err
					}
					scheduled = n
				}
				if scheduled == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No enabled feeds to update")
					return nil
				}

				waitCtx, stop := context.WithTimeout(cmd.Context(), updateDeadline(rt, scheduled))
				defer stop()
				outcomes, err := awaitUpdates(waitCtx, evts, scheduled)
				if err != nil && len(outcomes) == 0 {
					return err
				}
				return printUpdateOutcomes(cmd, rt, outcomes)
			})
		},
	}
}

func printUpdateOutcomes(cmd *cobra.Command, rt *runtime, outcomes []updateOutcome) error {
	rows := make([][]string, 0, len(outcomes))
	totalNew := 0
	for _, o := range outcomes {
		title := strconv.FormatInt(o.feedID, 10)
		if feed, err := rt.store.FeedByID(cmd.Context(), o.feedID); err == nil && feed != nil {
			title = truncate(feed.DisplayTitle(), 48)
		}
		result := "ok"
		count := strconv.Itoa(o.newEpisodes)
		if o.failed {
			result = "failed: " + o.code
			count = "-"
		} else {
			totalNew += o.newEpisodes
		}
		rows = append(rows, []string{strconv.FormatInt(o.feedID, 10), title, result, count})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Feed", "Result", "New"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
	))
	fmt.Fprintf(out, "%d feed(s) updated, %d new episode(s)\n", len(outcomes), totalNew)
	return nil
}

func newFeedsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				feeds, err := st.Feeds(cmd.Context())
				if err != nil {
					return err
				}
				if len(feeds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions")
					return nil
				}
				counts, err := st.NewEpisodeCounts(cmd.Context())
				if err != nil {
					return err
				}
				groups, err := st.Groups(cmd.Context())
				if err != nil {
					return err
				}
				groupNames := make(map[int64]string, len(groups))
				for _, g := range groups {
					groupNames[g.ID] = g.Name
				}

				sortFeedsByTitle(feeds)
				rows := make([][]string, 0, len(feeds))
				for _, f := range feeds {
					group := ""
					if f.GroupID != nil {
						group = groupNames[*f.GroupID]
					}
					status := string(f.Status)
					if f.ErrorCode != "" {
						status = "error: " + f.ErrorCode
					}
					rows = append(rows, []string{
						strconv.FormatInt(f.ID, 10),
						truncate(f.DisplayTitle(), 48),
						group,
						strconv.Itoa(counts[f.ID]),
						yesNo(f.Enabled),
						status,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Group", "New", "Enabled", "Status"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newEnableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <feed-id>",
		Short: "Enable a feed for updates",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabledRunE(ctx, true),
	}
}

func newDisableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <feed-id>",
		Short: "Exclude a feed from updates",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabledRunE(ctx, false),
	}
}

func setEnabledRunE(ctx *commandContext, enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		feedID, err := parseID(args[0], "feed")
		if err != nil {
			return err
		}
		return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
			if err := rt.library.SetFeedEnabled(cmd.Context(), feedID, enabled); err != nil {
				return feedCommandError(err, feedID)
			}
			verb := "enabled"
			if !enabled {
				verb = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feed %d %s\n", feedID, verb)
			return nil
		})
	}
}

func newRenameCommand(ctx *commandContext) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "rename <feed-id> [title]",
		Short: "Override a feed's display title",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			title := ""
			if len(args) == 2 {
				title = args[1]
			}
			if title == "" && !clear {
				return errors.New("provide a title or pass --clear to remove the override")
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.RenameFeed(cmd.Context(), feedID, title); err != nil {
					return feedCommandError(err, feedID)
				}
				out := cmd.OutOrStdout()
				if title == "" {
					fmt.Fprintf(out, "Cleared title override on feed %d\n", feedID)
				} else {
					fmt.Fprintf(out, "Feed %d renamed to %q\n", feedID, title)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove the title override")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <feed-id>",
		Short: "Unsubscribe and remove a feed with its episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.DeleteFeed(cmd.Context(), feedID); err != nil {
					return feedCommandError(err, feedID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feed %d deleted\n", feedID)
				return nil
			})
		},
	}
}

func feedCommandError(err error, feedID int64) error {
	if errors.Is(err, library.ErrFeedNotFound) {
		return fmt.Errorf("feed %d not found", feedID)
	}
	return err
}
