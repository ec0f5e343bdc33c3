package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ReportCmd returns the report command: it downloads the per-row CSV detail
// report for a submission.
func ReportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report <submission-id>",
		Short: "Download the per-row CSV report for a submission",
		Args:  cobra.ExactArgs(1),
	}
	server := addServerFlag(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid submission id %q: %w", args[0], err)
		}

		out := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			out = f
		}

		if err := NewClient(*server).Report(id, out); err != nil {
			return err
		}
		if output != "" {
			fmt.Printf("Report written to %s\n", output)
		}
		return nil
	}
	return cmd
}
