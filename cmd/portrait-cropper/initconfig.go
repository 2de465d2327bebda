package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/portrait-cropper/internal/config"
	"github.com/menta2k/portrait-cropper/internal/utils"
)

func newInitConfigCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration to a file",
		Long: `Writes the default configuration as JSON or YAML, chosen by the file
extension. Without a path the per-user config file is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if !force && utils.FileExists(path) {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			if err := config.Default().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}
