package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/menta2k/portrait-cropper/internal/config"
	"github.com/menta2k/portrait-cropper/internal/logging"
	"github.com/menta2k/portrait-cropper/internal/utils"
)

var configFile string

// NewRootCmd builds the portrait-cropper command tree
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portrait-cropper",
		Short: "Deterministic 3:4 portrait cropping for student photo batches",
		Long: `Portrait Cropper scans a directory of raw portraits, locates the face in
each image with a vision model and writes a standardized 3:4 crop.

Images that cannot be cropped safely are copied to a manual review
directory. A processed index makes runs idempotent, so the same input
directory can be processed repeatedly without duplicating work.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (JSON or YAML)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newDecideCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newInitConfigCmd())
	cmd.AddCommand(newLocateCmd())

	return cmd
}

// loadConfig reads --config, or the per-user config file when present
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	return config.Load(path)
}

// newLogger creates the run logger on stderr
func newLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	return logging.New(cfg.Logging, cfg.Paths.Logs, os.Stderr)
}
