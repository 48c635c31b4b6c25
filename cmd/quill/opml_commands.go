package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/opml"
	"quill/internal/store"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export enabled subscriptions as OPML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				feeds, err := st.Feeds(cmd.Context())
				if err != nil {
					return err
				}
				groups, err := st.Groups(cmd.Context())
				if err != nil {
					return err
				}
				sortFeedsByTitle(feeds)
				doc, err := opml.Export("quill subscriptions", feeds, groups)
				if err != nil {
					return fmt.Errorf("render opml: %w", err)
				}
				doc = append(doc, '\n')
				if outputPath == "" {
					_, err = cmd.OutOrStdout().Write(doc)
					return err
				}
				if err := os.WriteFile(outputPath, doc, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outputPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported subscriptions to %s\n", outputPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the document to a file instead of stdout")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Subscribe to every feed in an OPML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			entries, err := opml.Parse(file)
			file.Close()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Document contains no feeds")
				return nil
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				evts, cancel := rt.bus.SubscribeBuffer(1024)
				defer cancel()

				out := cmd.OutOrStdout()
				added, skipped := 0, 0
				for _, entry := range entries {
					feed, err := rt.library.AddFeed(cmd.Context(), entry.URL)
					if err != nil {
						if errors.Is(err, store.ErrDuplicateSource) {
							skipped++
							continue
						}
						return fmt.Errorf("add %s: %w", entry.URL, err)
					}
					added++
					if entry.Group != "" {
						if err := ensureFeedGroup(cmd, rt, feed.ID, entry.Group); err != nil {
							return err
						}
					}
				}
				fmt.Fprintf(out, "Imported %d feed(s), skipped %d duplicate(s)\n", added, skipped)
				if added == 0 {
					return nil
				}

				waitCtx, stop := context.WithTimeout(cmd.Context(), updateDeadline(rt, added))
				defer stop()
				outcomes, err := awaitUpdates(waitCtx, evts, added)
				if err != nil && len(outcomes) == 0 {
					return err
				}
				return printUpdateOutcomes(cmd, rt, outcomes)
			})
		},
	}
}

func ensureFeedGroup(cmd *cobra.Command, rt *runtime, feedID int64, name string) error {
	if _, err := rt.library.AddGroup(cmd.Context(), name); err != nil && !errors.Is(err, store.ErrDuplicateGroup) {
		return fmt.Errorf("create group %q: %w", name, err)
	}
	if err := rt.library.SetFeedGroup(cmd.Context(), feedID, name); err != nil {
		return fmt.Errorf("assign feed %d to group %q: %w", feedID, name, err)
	}
	return nil
}
