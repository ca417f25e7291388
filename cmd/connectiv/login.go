package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mikecbrant/connectiv-portal/internal/portal/authflow"
)

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to the portal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			portal, err := a.buildPortal(ctx)
			if err != nil {
				return err
			}

			reader := bufio.NewReader(cmd.InOrStdin())
			fmt.Fprint(cmd.OutOrStdout(), "Username: ")
			username, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			username = strings.TrimSpace(username)

			password, err := readSecret(cmd, reader, "Password: ")
			if err != nil {
				return err
			}

			if err := portal.machine.SignIn(ctx, username, password); err != nil {
				return loginFailure(portal.machine)
			}

			snap := portal.machine.Snapshot()
			if snap.State == authflow.PasswordResetRequired {
				fmt.Fprintln(cmd.OutOrStdout(), "A new password is required.")
				newPassword, err := readSecret(cmd, reader, "New password: ")
				if err != nil {
					return err
				}
				if err := portal.machine.SubmitNewPassword(ctx, newPassword); err != nil {
					return loginFailure(portal.machine)
				}
				snap = portal.machine.Snapshot()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", snap.Username)
			return nil
		},
	}
}

// loginFailure surfaces the machine's single current message as the error.
func loginFailure(m *authflow.Machine) error {
	return fmt.Errorf("%s", m.Snapshot().Message)
}

// readSecret reads without echo when stdin is a terminal, falling back to a
// plain line read otherwise (tests, pipes).
func readSecret(cmd *cobra.Command, reader *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
