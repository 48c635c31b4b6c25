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

func newGroupCommand(ctx *commandContext) *cobra.Command {
	groupCmd := &cobra.Command{
		Use:   "group",
		Short: "Organize feeds into ordered groups",
	}

	groupCmd.AddCommand(newGroupListCommand(ctx))
	groupCmd.AddCommand(newGroupAddCommand(ctx))
	groupCmd.AddCommand(newGroupRenameCommand(ctx))
	groupCmd.AddCommand(newGroupMoveCommand(ctx))
	groupCmd.AddCommand(newGroupDeleteCommand(ctx))
	groupCmd.AddCommand(newGroupSetCommand(ctx))
	groupCmd.AddCommand(newGroupUnsetCommand(ctx))

	return groupCmd
}

func newGroupListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				groups, err := st.Groups(cmd.Context())
				if err != nil {
					return err
				}
				if len(groups) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No groups")
					return nil
				}
				feeds, err := st.Feeds(cmd.Context())
				if err != nil {
					return err
				}
				members := make(map[int64]int)
				for _, f := range feeds {
					if f.GroupID != nil {
						members[*f.GroupID]++
					}
				}
				rows := make([][]string, 0, len(groups))
				for i, g := range groups {
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						g.Name,
						strconv.Itoa(members[g.ID]),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Pos", "Name", "Feeds"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newGroupAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a group at the end of the order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				group, err := rt.library.AddGroup(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, store.ErrDuplicateGroup) {
						return fmt.Errorf("group %q already exists", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created group %q\n", group.Name)
				return nil
			})
		},
	}
}

func newGroupRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.RenameGroup(cmd.Context(), args[0], args[1]); err != nil {
					return groupCommandError(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Group %q renamed to %q\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newGroupMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <name> <position>",
		Short: "Move a group to a 1-based position in the order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil || position < 1 {
				return fmt.Errorf("invalid position %q", args[1])
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.PlaceGroup(cmd.Context(), args[0], position); err != nil {
					return groupCommandError(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Group %q moved to position %d\n", args[0], position)
				return nil
			})
		},
	}
}

func newGroupDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a group, leaving its feeds ungrouped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.DeleteGroup(cmd.Context(), args[0]); err != nil {
					return groupCommandError(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Group %q deleted\n", args[0])
				return nil
			})
		},
	}
}

func newGroupSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <feed-id> <name>",
		Short: "Place a feed in a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.SetFeedGroup(cmd.Context(), feedID, args[1]); err != nil {
					if errors.Is(err, library.ErrFeedNotFound) {
						return fmt.Errorf("feed %d not found", feedID)
					}
					return groupCommandError(err, args[1])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feed %d placed in group %q\n", feedID, args[1])
				return nil
			})
		},
	}
}

func newGroupUnsetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <feed-id>",
		Short: "Remove a feed from its group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := parseID(args[0], "feed")
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.library.UnsetFeedGroup(cmd.Context(), feedID); err != nil {
					return feedCommandError(err, feedID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feed %d removed from its group\n", feedID)
				return nil
			})
		},
	}
}

func groupCommandError(err error, name string) error {
	if errors.Is(err, library.ErrGroupNotFound) {
		return fmt.Errorf("group %q not found", name)
	}
	return err
}
