package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	portraitcropper "github.com/menta2k/portrait-cropper"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show image counts per stage and the processed index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := portraitcropper.ReadStatus(cfg, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			for _, s := range st.Stages {
				fmt.Fprintf(out, "%-14s %5d  %s\n", s.Name, s.Images, s.Path)
			}
			fmt.Fprintf(out, "\nProcessed index: %s\n", st.LedgerPath)
			fmt.Fprintf(out, "  files:         %d\n", st.LedgerFiles)
			fmt.Fprintf(out, "  successful:    %d\n", st.Ledger.Successful)
			fmt.Fprintf(out, "  manual review: %d\n", st.Ledger.ManualReview)
			fmt.Fprintf(out, "  errors:        %d\n", st.Ledger.Errors)
			if st.LastUpdated != nil {
				fmt.Fprintf(out, "  last updated:  %s\n", st.LastUpdated.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	return cmd
}
