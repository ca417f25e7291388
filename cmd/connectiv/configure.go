package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigureCmd(a *app) *cobra.Command {
	var portalURL, region, project string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write the tool configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if portalURL == "" {
				return fmt.Errorf("--portal-url is required")
			}
			cfg := cliConfig{PortalURL: portalURL, Region: region, Project: project}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(a.configPath), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(a.configPath, b, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", a.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&portalURL, "portal-url", "", "base URL of the deployed portal")
	cmd.Flags().StringVar(&region, "region", "", "AWS region override")
	cmd.Flags().StringVar(&project, "project", "", "project name prefix used by verify")
	return cmd
}
