package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	portraitcropper "github.com/menta2k/portrait-cropper"
	"github.com/menta2k/portrait-cropper/internal/utils"
	"github.com/menta2k/portrait-cropper/pkg/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		batchID     string
		autoClean   bool
		noBgRemoval bool
		bgColor     string
		showBar     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every new image of the input directory",
		Long: `Scans the input directory and takes every image not yet in the processed
index to one terminal outcome: processed, manual_review or error.

Each outcome is recorded in the processed index as soon as it is reached,
so an interrupted run resumes where it stopped.`,
		Example: `  # Process the input directory as a named batch
  portrait-cropper run --batch-id admission_2025

  # Replace the background with white and remove processed sources
  portrait-cropper run --bg-color white --auto-clean`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchID != "" {
				if err := utils.ValidateBatchID(batchID); err != nil {
					return err
				}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if noBgRemoval {
				cfg.Background.Enabled = false
			}
			if bgColor != "" {
				cfg.Background.Enabled = true
				cfg.Background.Color = bgColor
			}

			logger, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			runID := uuid.NewString()
			logger = logger.With("run_id", runID)

			opts := portraitcropper.Options{Logger: logger}
			var bar *progressbar.ProgressBar
			if showBar {
				opts.Progress = func(p pipeline.Progress) {
					if bar == nil {
						bar = progressbar.NewOptions(p.Total,
							progressbar.OptionSetDescription("Cropping portraits"),
							progressbar.OptionShowCount(),
							progressbar.OptionShowIts(),
							progressbar.OptionSetItsString("images"),
							progressbar.OptionShowElapsedTimeOnFinish(),
							progressbar.OptionSetPredictTime(true),
							progressbar.OptionFullWidth(),
						)
					}
					_ = bar.Set(p.Done)
				}
			}

			pc, err := portraitcropper.Build(cfg, opts)
			if err != nil {
				return err
			}
			defer pc.Close()

			res, runErr := pc.Run(cmd.Context(), pipeline.RunOptions{
				BatchID:   batchID,
				AutoClean: autoClean,
				RunID:     runID,
			})
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(cmd.OutOrStdout())
			}
			if res != nil {
				printRunResult(cmd, res)
			}
			if runErr != nil && cmd.Context().Err() != nil {
				logger.Warn("run interrupted, progress saved", "error", runErr)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&batchID, "batch-id", "b", "", "batch identifier (default batch_YYYYMMDD_HHMMSS)")
	cmd.Flags().BoolVar(&autoClean, "auto-clean", false, "delete source images that were cropped in this run")
	cmd.Flags().BoolVar(&noBgRemoval, "no-bg-removal", false, "disable background replacement")
	cmd.Flags().StringVar(&bgColor, "bg-color", "", "background colour (name, #rrggbb or r,g,b); enables replacement")
	cmd.Flags().BoolVarP(&showBar, "progress", "p", false, "show a progress bar")
	cmd.MarkFlagsMutuallyExclusive("no-bg-removal", "bg-color")

	return cmd
}

func printRunResult(cmd *cobra.Command, res *pipeline.Result) {
	out := cmd.OutOrStdout()
	s := res.Stats
	fmt.Fprintf(out, "Batch:          %s\n", res.BatchID)
	fmt.Fprintf(out, "Images found:   %d\n", s.Total)
	fmt.Fprintf(out, "Already done:   %d\n", s.Skipped)
	fmt.Fprintf(out, "Processed:      %d\n", s.Processed)
	fmt.Fprintf(out, "Manual review:  %d\n", s.ManualReview)
	fmt.Fprintf(out, "Errors:         %d\n", s.Errors)
	if res.Summary != nil {
		fmt.Fprintf(out, "Success rate:   %.2f\n", res.Summary.SuccessRate)
		fmt.Fprintf(out, "Elapsed:        %s\n", res.Elapsed().Round(time.Millisecond))
	}
	if res.SummaryPath != "" {
		fmt.Fprintf(out, "Summary:        %s\n", res.SummaryPath)
	}
}
