package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manages crawled source channels",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <username>",
			Short: "Adds a source channel",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				handle := relay.NormalizeHandle(args[0])
				if handle == "" {
					return fmt.Errorf("invalid username %q", args[0])
				}
				if err := a.Store.AddSource(cmd.Context(), handle); err != nil {
					return fmt.Errorf("add source: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "added", handle)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <username>",
			Short: "Removes a source channel with its posts and donor mappings",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				handle := relay.NormalizeHandle(args[0])
				if err := a.Store.DeleteSource(cmd.Context(), handle); err != nil {
					return fmt.Errorf("remove source: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed", handle)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Lists source channels and their crawl state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				sources, err := a.Store.ListSources(cmd.Context())
				if err != nil {
					return fmt.Errorf("list sources: %w", err)
				}
				for _, s := range sources {
					checked := "never"
					if s.LastCheck != nil {
						checked = s.LastCheck.Format(time.RFC3339)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tlast_post_id=%d\tlast_check=%s\n", s.Username, s.LastPostID, checked)
				}
				return nil
			},
		},
	)
	return cmd
}

func newTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manages target channels",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <channel-id>",
			Short: "Adds a target channel by its Bot API id, e.g. -1001234567890",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				id, err := parseChannelID(args[0])
				if err != nil {
					return err
				}
				if err := a.Store.AddTarget(cmd.Context(), id); err != nil {
					return fmt.Errorf("add target: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "added", id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <channel-id>",
			Short: "Removes a target channel and its donor mappings",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				id, err := parseChannelID(args[0])
				if err != nil {
					return err
				}
				if err := a.Store.DeleteTarget(cmd.Context(), id); err != nil {
					return fmt.Errorf("remove target: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed", id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Lists target channels and their donors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				targets, err := a.Store.ListTargets(cmd.Context())
				if err != nil {
					return fmt.Errorf("list targets: %w", err)
				}
				for _, t := range targets {
					donors, err := a.Store.Donors(cmd.Context(), t.ID)
					if err != nil {
						return fmt.Errorf("list donors: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d\tdonors=%v\tinvite=%s\n", t.ID, donors, t.InviteLink)
				}
				return nil
			},
		},
	)
	return cmd
}

func newDonorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "donors",
		Short: "Maps source channels onto target channels",
	}
	donorArgs := func(args []string) (relay.Donor, error) {
		id, err := parseChannelID(args[0])
		if err != nil {
			return relay.Donor{}, err
		}
		handle := relay.NormalizeHandle(args[1])
		if handle == "" {
			return relay.Donor{}, fmt.Errorf("invalid username %q", args[1])
		}
		return relay.Donor{TargetID: id, Username: handle}, nil
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <channel-id> <username>",
			Short: "Adds a donor to a target channel",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				d, err := donorArgs(args)
				if err != nil {
					return err
				}
				if err := a.Store.AddDonor(cmd.Context(), d); err != nil {
					return fmt.Errorf("add donor: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s to %d\n", d.Username, d.TargetID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <channel-id> <username>",
			Short: "Removes a donor from a target channel",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				d, err := donorArgs(args)
				if err != nil {
					return err
				}
				if err := a.Store.RemoveDonor(cmd.Context(), d); err != nil {
					return fmt.Errorf("remove donor: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %d\n", d.Username, d.TargetID)
				return nil
			},
		},
	)
	return cmd
}

func parseChannelID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q: %w", raw, err)
	}
	return id, nil
}
