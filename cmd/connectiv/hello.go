package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	flowerrs "github.com/mikecbrant/connectiv-portal/internal/portal/errors"
)

func newHelloCmd(a *app) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "hello",
		Short: "Call the protected hello endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			portal, err := a.buildPortal(cmd.Context())
			if err != nil {
				return err
			}
			body, err := portal.hello.Call(cmd.Context(), year)
			if err != nil {
				return fmt.Errorf("%s", flowerrs.MessageOf(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "year to process")
	return cmd
}
