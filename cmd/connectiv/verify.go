package main

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	vpapi "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions"
	"github.com/spf13/cobra"

	"github.com/mikecbrant/connectiv-portal/internal/awssdk"
	"github.com/mikecbrant/connectiv-portal/internal/verify"
)

func newVerifyCmd(a *app) *cobra.Command {
	var project, portalURL, canaryFile, namespace, region string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a deployed portal end to end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if project == "" {
				project = a.cfg.Project
			}
			if project == "" {
				return fmt.Errorf("--project is required (or set project via `connectiv configure`)")
			}
			if portalURL == "" {
				portalURL = a.cfg.PortalURL
			}
			if region == "" {
				region = a.cfg.Region
			}

			awsCfg, err := awssdk.LoadDefault(ctx, region)
			if err != nil {
				return fmt.Errorf("loading AWS configuration: %w", err)
			}

			doctor := &verify.Doctor{
				Project:    project,
				PortalURL:  portalURL,
				CanaryFile: canaryFile,
				Namespace:  namespace,
				SSM:        ssm.NewFromConfig(awsCfg),
				Lambda:     lambda.NewFromConfig(awsCfg),
				IAM:        iam.NewFromConfig(awsCfg),
				VP:         vpapi.NewFromConfig(awsCfg),
				Logger:     a.logger,
			}
			report, err := doctor.Run(ctx)
			if err != nil {
				return err
			}

			for _, c := range report.Checks {
				mark := "ok  "
				if !c.OK {
					mark = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", mark, c.Name, c.Detail)
			}
			if !report.Passed() {
				return fmt.Errorf("verification failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name prefix")
	cmd.Flags().StringVar(&portalURL, "portal-url", "", "portal base URL for the config.json comparison")
	cmd.Flags().StringVar(&canaryFile, "canary-file", "", "canary YAML file to run against the policy store")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Cedar namespace for canary interpolation")
	cmd.Flags().StringVar(&region, "region", "", "AWS region override")
	return cmd
}
