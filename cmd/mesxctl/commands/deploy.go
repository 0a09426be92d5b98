package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/machshop/extension-orchestrator/pkg/deploy"
)

// cutExtensionRef splits "id@version".
func cutExtensionRef(ref string) (id, version string, ok bool) {
	return strings.Cut(ref, "@")
}

func newDeployCommand() *cobra.Command {
	var (
		sites          []string
		deploymentType string
		strategy       string
		initiatedBy    string
		preChecks      bool
		postChecks     bool
		autoRollback   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <extension-id@version>",
		Short: "Deploy an extension version to one or more sites",
		Long: `Deploy an extension to sites, gated by compatibility and conflict
checks, with a phased rollout and post-deployment health verification.
Multiple --site flags run a bulk deployment where one site failing never
stops the rest.`,
		Example: `  # One site, immediate rollout
  mesxctl deploy ext-quality@1.2.0 --site site-dallas

  # Fleet rollout with canary phases
  mesxctl deploy ext-quality@1.2.0 --site site-dallas --site site-austin \
    --strategy canary --type upgrade`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, version, ok := cutExtensionRef(args[0])
			if !ok {
				return fmt.Errorf("expected <extension-id@version>, got %q", args[0])
			}

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if len(sites) == 1 {
				record, err := app.deploy.DeployExtensionToSite(ctx, &deploy.Request{
					SiteID:               sites[0],
					ExtensionID:          id,
					TargetVersion:        version,
					DeploymentType:       deploy.DeploymentType(deploymentType),
					RolloutStrategy:      deploy.RolloutStrategy(strategy),
					PreDeploymentChecks:  preChecks,
					PostDeploymentChecks: postChecks,
					EnableAutoRollback:   autoRollback,
					InitiatedBy:          initiatedBy,
				}, tenant())
				if record != nil {
					printErr := printResult(record, func() {
						fmt.Printf("deployment %s: %s\n", record.ID, record.Status)
					})
					if err == nil {
						err = printErr
					}
				}
				return err
			}

			result, err := app.deploy.BulkDeployExtensions(ctx, &deploy.BulkRequest{
				SiteIDs:              sites,
				ExtensionID:          id,
				TargetVersion:        version,
				DeploymentType:       deploy.DeploymentType(deploymentType),
				RolloutStrategy:      deploy.RolloutStrategy(strategy),
				PreDeploymentChecks:  preChecks,
				PostDeploymentChecks: postChecks,
				EnableAutoRollback:   autoRollback,
				InitiatedBy:          initiatedBy,
			}, tenant())
			if err != nil {
				return err
			}
			return printResult(result, func() {
				for _, outcome := range result.Outcomes {
					if outcome.Succeeded {
						fmt.Printf("  %s: ok (%s)\n", outcome.SiteID, outcome.DeploymentID)
					} else {
						fmt.Printf("  %s: FAILED: %s\n", outcome.SiteID, outcome.Error)
					}
				}
				fmt.Printf("%d succeeded, %d failed\n", result.Succeeded, result.Failed)
			})
		},
	}

	cmd.Flags().StringArrayVar(&sites, "site", nil, "target site ID (repeatable)")
	cmd.Flags().StringVar(&deploymentType, "type", string(deploy.DeploymentTypeInstall), "deployment type (install, upgrade, downgrade, hotfix)")
	cmd.Flags().StringVar(&strategy, "strategy", string(deploy.RolloutImmediate), "rollout strategy (immediate, staged, canary, blue_green)")
	cmd.Flags().BoolVar(&preChecks, "pre-checks", true, "run compatibility and conflict checks before the rollout")
	cmd.Flags().BoolVar(&postChecks, "post-checks", true, "verify extension health after the rollout")
	cmd.Flags().BoolVar(&autoRollback, "auto-rollback", true, "restore the previous state when post-deployment checks fail")
	cmd.Flags().StringVar(&initiatedBy, "initiated-by", "", "operator identity recorded on the deployment")
	cmd.MarkFlagRequired("site")

	return cmd
}

func newRollbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <deployment-id>",
		Short: "Roll a deployment back to its source version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			record, err := app.deploy.RollbackDeployment(ctx, args[0], tenant())
			if err != nil {
				return err
			}
			return printResult(record, func() {
				fmt.Printf("rollback %s: %s restored to %s on %s\n",
					record.ID, record.ExtensionID, record.TargetVersion, record.SiteID)
			})
		},
	}
	return cmd
}

func newEnableCommand() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "enable <extension-id>",
		Short: "Enable a deployed extension on a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.deploy.EnableExtensionForSite(ctx, siteID, args[0], tenant()); err != nil {
				return err
			}
			fmt.Printf("%s enabled on %s\n", args[0], siteID)
			return nil
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "target site ID")
	cmd.MarkFlagRequired("site")
	return cmd
}

func newDisableCommand() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "disable <extension-id>",
		Short: "Disable a deployed extension on a site without removing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.deploy.DisableExtensionForSite(ctx, siteID, args[0], tenant()); err != nil {
				return err
			}
			fmt.Printf("%s disabled on %s\n", args[0], siteID)
			return nil
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "target site ID")
	cmd.MarkFlagRequired("site")
	return cmd
}
