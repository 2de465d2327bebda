package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	portraitcropper "github.com/menta2k/portrait-cropper"
)

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear outputs, metadata and the processed index",
		Long: `Empties every stage directory except the input directory, deletes the
metadata records, clears the processed index and truncates the pipeline log.
Source images in the input directory are kept.`,
		Example: `  portrait-cropper reset --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			res, err := portraitcropper.Reset(cfg, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Files removed:     %d\n", res.FilesRemoved)
			fmt.Fprintf(out, "Records removed:   %d\n", res.RecordsRemoved)
			fmt.Fprintf(out, "Index entries:     %d cleared\n", res.LedgerCleared)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")

	return cmd
}
