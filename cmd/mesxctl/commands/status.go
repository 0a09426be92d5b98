package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List extensions deployed to a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			statuses, err := app.deploy.ListSiteExtensions(ctx, siteID, tenant())
			if err != nil {
				return err
			}
			return printResult(statuses, func() {
				if len(statuses) == 0 {
					fmt.Printf("no extensions deployed to %s\n", siteID)
					return
				}
				for _, s := range statuses {
					fmt.Printf("%-30s %-12s %-10s %-12s %s\n",
						s.ExtensionID, s.Version, s.Enabled, s.Deployment, s.Health)
				}
			})
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "target site ID")
	cmd.MarkFlagRequired("site")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var (
		siteID      string
		extensionID string
		limit       int
		offset      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show deployment history for a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			records, err := app.deploy.GetDeploymentHistory(ctx, siteID, extensionID, limit, offset, tenant())
			if err != nil {
				return err
			}
			return printResult(records, func() {
				for _, r := range records {
					fmt.Printf("%s  %-30s %-10s %s -> %s  %s\n",
						r.StartedAt.Format("2006-01-02 15:04:05"),
						r.ExtensionID, r.DeploymentType,
						orDash(r.SourceVersion), r.TargetVersion, r.Status)
				}
			})
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "target site ID")
	cmd.Flags().StringVar(&extensionID, "extension", "", "filter by extension ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	cmd.MarkFlagRequired("site")
	return cmd
}

func newHealthCommand() *cobra.Command {
	var siteID, checkType string
	cmd := &cobra.Command{
		Use:   "health <extension-id>",
		Short: "Probe the health of a deployed extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			results, err := app.deploy.CheckExtensionHealth(ctx, siteID, args[0], checkType, tenant())
			if err != nil {
				return err
			}
			return printResult(results, func() {
				for _, r := range results {
					msg := r.Message
					if msg == "" {
						msg = "-"
					}
					fmt.Printf("%-10s %-10s %4dms  %s\n", r.CheckType, r.Status, r.DurationMS, msg)
				}
			})
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "target site ID")
	cmd.Flags().StringVar(&checkType, "check", "", "probe one check type (liveness or readiness); default runs both")
	cmd.MarkFlagRequired("site")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
