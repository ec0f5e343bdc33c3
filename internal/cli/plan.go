package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PlanCmd returns the plan command: it maps a file's columns and prints the
// processing order without creating a submission.
func PlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Map a file's columns and show the record type processing order",
		Args:  cobra.ExactArgs(1),
	}
	server := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		plan, err := NewClient(*server).Plan(args[0])
		if err != nil {
			return err
		}

		fmt.Println("Columns:")
		for _, col := range plan.Columns {
			target := ""
			if col.Target != "" {
				target = " -> " + col.Target
			}
			fmt.Printf("  %2d  %-30s %s %s%s\n", col.Index, col.Header, col.RecordType, col.Kind, target)
		}
		fmt.Println("Processing order:")
		for i, recordType := range plan.Order {
			fmt.Printf("  %d. %s\n", i+1, recordType)
		}
		return nil
	}
	return cmd
}
