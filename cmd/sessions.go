package main

import (
	"context"
	"fmt"

	"github.com/beyondbrewing/brewery-idb/sessions"
	"github.com/spf13/cobra"
)

// NewSessionsCommand groups the session store commands.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored login sessions",
	}
	cmd.AddCommand(newSessionsAddCommand(rootOpts))
	cmd.AddCommand(newSessionsListCommand(rootOpts))
	cmd.AddCommand(newSessionsLatestCommand(rootOpts))
	cmd.AddCommand(newSessionsDeleteCommand(rootOpts))
	return cmd
}

func withSessions(ctx context.Context, rootOpts *RootOptions, fn func(ctx context.Context, store *sessions.Store) error) error {
	return withRuntime(ctx, rootOpts, func(ctx context.Context, rt *runtime) error {
		store, err := sessions.Open(ctx, rt.env, sessions.WithLogger(rt.log))
		if err != nil {
			return err
		}
		defer store.Close(ctx)
		return fn(ctx, store)
	})
}

func newSessionsAddCommand(rootOpts *RootOptions) *cobra.Command {
	var sess sessions.Session
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd.Context(), rootOpts, func(ctx context.Context, store *sessions.Store) error {
				added, err := store.Add(ctx, sess)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), added)
			})
		},
	}
	cmd.Flags().StringVar(&sess.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&sess.HomeServer, "homeserver", "", "homeserver url")
	cmd.Flags().StringVar(&sess.DeviceID, "device", "", "device id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionsListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd.Context(), rootOpts, func(ctx context.Context, store *sessions.Store) error {
				list, err := store.List(ctx, limit)
				if err != nil {
					return err
				}
				for _, s := range list {
					if err := writeJSON(cmd.OutOrStdout(), s); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "stop after this many sessions (0 for all)")
	return cmd
}

func newSessionsLatestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the most recent session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd.Context(), rootOpts, func(ctx context.Context, store *sessions.Store) error {
				latest, err := store.Latest(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), latest)
			})
		},
	}
}

func newSessionsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd.Context(), rootOpts, func(ctx context.Context, store *sessions.Store) error {
				if err := store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}
