package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/machshop/extension-orchestrator/pkg/compat"
)

func newCheckCommand() *cobra.Command {
	var siteID string

	cmd := &cobra.Command{
		Use:   "check <extension-id@version> [<extension-id@version>...]",
		Short: "Check extension compatibility against a site",
		Long: `Check whether extension versions can run on a site, against the
compatibility matrix: MES version window, platform capabilities and
pairwise declarations with the site's installed extensions.

With more than one extension, the whole batch is validated together and
an installation order is computed.`,
		Example: `  # Single extension
  mesxctl check ext-quality@1.2.0 --site site-dallas

  # Batch installation
  mesxctl check ext-quality@1.2.0 ext-oee@2.0.0 --site site-dallas`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			siteCtx, err := app.catalog.SiteContext(ctx, siteID)
			if err != nil {
				return err
			}

			requests := make([]compat.InstallRequest, 0, len(args))
			for _, arg := range args {
				id, version, ok := strings.Cut(arg, "@")
				if !ok {
					return fmt.Errorf("expected <extension-id@version>, got %q", arg)
				}
				requests = append(requests, compat.InstallRequest{ExtensionID: id, Version: version})
			}

			if len(requests) == 1 {
				result, err := app.compat.CheckCompatibility(ctx, requests[0].ExtensionID, requests[0].Version, siteCtx)
				if err != nil {
					return err
				}
				return printResult(result, func() {
					printCheckResult(result)
				})
			}

			result, err := app.compat.CheckInstallationCompatibility(ctx, requests, siteCtx)
			if err != nil {
				return err
			}
			return printResult(result, func() {
				for _, r := range result.Results {
					printCheckResult(r)
				}
				for _, f := range result.BatchFindings {
					fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Code, f.Message)
				}
				fmt.Printf("installation order: %s\n", strings.Join(result.InstallationOrder, ", "))
				fmt.Printf("batch compatible: %t\n", result.Compatible)
			})
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "target site ID")
	cmd.MarkFlagRequired("site")

	return cmd
}

func printCheckResult(result *compat.CheckResult) {
	fmt.Printf("%s@%s: compatible=%t\n", result.ExtensionID, result.ExtensionVersion, result.Compatible)
	for _, f := range result.Findings {
		fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Code, f.Message)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("  suggestion: %s\n", s)
	}
}
