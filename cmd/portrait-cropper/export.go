package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	portraitcropper "github.com/menta2k/portrait-cropper"
	"github.com/menta2k/portrait-cropper/internal/utils"
)

func newExportCmd() *cobra.Command {
	var batchID, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a batch report as an XLSX workbook",
		Example: `  portrait-cropper export --batch-id admission_2025 --out admission_2025.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateBatchID(batchID); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if out == "" {
				out = batchID + ".xlsx"
			}

			data, err := portraitcropper.ExportBatch(cfg, batchID, nil)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&batchID, "batch-id", "b", "", "batch to export")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <batch-id>.xlsx)")
	_ = cmd.MarkFlagRequired("batch-id")

	return cmd
}
