package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/machshop/extension-orchestrator/pkg/extension"
)

func newConflictsCommand() *cobra.Command {
	var (
		siteID       string
		manifestFile string
	)

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect conflicts between a candidate extension and a site",
		Long: `Analyze a candidate manifest against everything installed on a site:
route collisions, hook and entity conflicts, resource budget pressure,
permission overlaps, declared incompatibilities and dependency problems.`,
		Example: `  # From a manifest file
  mesxctl conflicts --manifest ext-quality-1.2.0.yaml --site site-dallas

  # From the catalog
  mesxctl conflicts ext-quality@1.2.0 --site site-dallas`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			var manifest *extension.Manifest
			switch {
			case manifestFile != "":
				manifest = &extension.Manifest{}
				if err := readYAMLFile(manifestFile, manifest); err != nil {
					return err
				}
			case len(args) == 1:
				id, version, ok := cutExtensionRef(args[0])
				if !ok {
					return fmt.Errorf("expected <extension-id@version>, got %q", args[0])
				}
				manifest, err = app.registry.GetManifest(ctx, id, version)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("either --manifest or an <extension-id@version> argument is required")
			}

			siteCtx, err := app.catalog.SiteContext(ctx, siteID)
			if err != nil {
				return err
			}

			result, err := app.conflict.DetectConflicts(ctx, manifest, siteCtx)
			if err != nil {
				return err
			}

			return printResult(result, func() {
				fmt.Printf("%s@%s on %s: can install=%t (%d errors, %d warnings, %dms)\n",
					manifest.ID, manifest.Version, siteID,
					result.CanInstall, len(result.Conflicts), len(result.Warnings), result.AnalysisTimeMS)
				for _, d := range result.Conflicts {
					fmt.Printf("  [%s] %s: %s\n", d.Severity, d.Type, d.Message)
				}
				for _, d := range result.Warnings {
					fmt.Printf("  [%s] %s: %s\n", d.Severity, d.Type, d.Message)
				}
			})
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "target site ID")
	cmd.Flags().StringVar(&manifestFile, "manifest", "", "candidate manifest YAML file")
	cmd.MarkFlagRequired("site")

	return cmd
}
