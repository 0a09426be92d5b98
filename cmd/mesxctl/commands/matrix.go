package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/machshop/extension-orchestrator/pkg/compat"
)

func newMatrixCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Manage compatibility matrix reference data",
	}
	cmd.AddCommand(newMatrixSetCommand())
	cmd.AddCommand(newMatrixSetDependencyCommand())
	cmd.AddCommand(newMatrixListCommand())
	return cmd
}

func newMatrixSetCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Upsert a compatibility record from a YAML file",
		Example: `  mesxctl matrix set -f record.yaml

  # record.yaml
  # extension_id: ext-quality
  # extension_version: 1.2.0
  # mes_version_min: 5.0.0
  # mes_version_max: 5.4.0
  # platform_capabilities: [workflow-engine]
  # tested: true
  # test_status: passed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			var record compat.Record
			if err := readYAMLFile(file, &record); err != nil {
				return err
			}
			if err := app.compat.UpdateCompatibilityRecord(ctx, &record); err != nil {
				return err
			}
			fmt.Printf("compatibility record %s@%s stored\n", record.ExtensionID, record.ExtensionVersion)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "record YAML file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newMatrixSetDependencyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set-dependency",
		Short: "Upsert a pairwise dependency declaration from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			var record compat.DependencyRecord
			if err := readYAMLFile(file, &record); err != nil {
				return err
			}
			if err := app.compat.UpsertDependencyCompatibility(ctx, &record); err != nil {
				return err
			}
			fmt.Printf("dependency declaration %s@%s -> %s stored\n",
				record.SourceExtensionID, record.SourceVersion, record.TargetExtensionID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "declaration YAML file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newMatrixListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <extension-id>",
		Short: "List compatibility records for an extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			records, err := app.store.ListCompatibilityRecords(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(records, func() {
				for _, r := range records {
					max := r.MESVersionMax
					if max == "" {
						max = "open"
					}
					fmt.Printf("%-12s MES [%s, %s]  tested=%t %s\n",
						r.ExtensionVersion, r.MESVersionMin, max, r.Tested, r.TestStatus)
				}
			})
		},
	}
	return cmd
}
