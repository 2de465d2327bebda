package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	portraitcropper "github.com/menta2k/portrait-cropper"
	"github.com/menta2k/portrait-cropper/pkg/processing"
)

func newLocateCmd() *cobra.Command {
	var describe bool

	cmd := &cobra.Command{
		Use:   "locate <image>",
		Short: "Run face detection on one image and print the faces found",
		Long: `Sends one image to the configured vision model and prints the face boxes
it returns. With --describe the model is first asked to describe the image,
which checks that it actually receives the picture.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			img, err := processing.NewProcessor().LoadImage(args[0])
			if err != nil {
				return fmt.Errorf("failed to load image: %w", err)
			}

			out := cmd.OutOrStdout()
			if describe {
				v, err := portraitcropper.NewVisionLocator(cfg.Detection, logger)
				if err != nil {
					return err
				}
				answer, err := v.TestVision(cmd.Context(), img)
				if err != nil {
					return fmt.Errorf("vision test failed: %w", err)
				}
				fmt.Fprintf(out, "Model says: %s\n\n", answer)
			}

			locator, closeFn, err := portraitcropper.NewLocator(cfg.Detection, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			faces, err := locator.Locate(cmd.Context(), img)
			if err != nil {
				return err
			}

			b := img.Bounds()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"width":  b.Dx(),
				"height": b.Dy(),
				"faces":  faces,
			})
		},
	}

	cmd.Flags().BoolVar(&describe, "describe", false, "ask the model to describe the image first")

	return cmd
}
