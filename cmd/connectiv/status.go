package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			portal, err := a.buildPortal(cmd.Context())
			if err != nil {
				return err
			}
			snap := portal.machine.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "State: %s\n", snap.State)
			if snap.Username != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "User:  %s\n", snap.Username)
			}
			if sess, ok := portal.store.Current(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Valid: %v (expires %s)\n", sess.IsValid(), sess.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			}
			if snap.Message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), snap.Message)
			}
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and drop the local session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			portal, err := a.buildPortal(cmd.Context())
			if err != nil {
				return err
			}
			portal.machine.SignOut(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}
