package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ReverseCmd returns the reverse command: it deletes every record a
// committed submission created.
func ReverseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverse <submission-id>",
		Short: "Delete the records a committed submission created",
		Args:  cobra.ExactArgs(1),
	}
	server := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid submission id %q: %w", args[0], err)
		}
		result, err := NewClient(*server).Reverse(id)
		if err != nil {
			return err
		}
		fmt.Printf("Reversed %s: deleted %d record(s)", result.SubmissionID, result.Deleted)
		if result.SkippedUpdates > 0 {
			fmt.Printf(", left %d updated record(s) in place", result.SkippedUpdates)
		}
		fmt.Println()
		return nil
	}
	return cmd
}

// CancelCmd returns the cancel command: it stops a running submission
// between rows, keeping already-committed rows.
func CancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <submission-id>",
		Short: "Stop a running submission, keeping rows already committed",
		Args:  cobra.ExactArgs(1),
	}
	server := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid submission id %q: %w", args[0], err)
		}
		if err := NewClient(*server).Cancel(id); err != nil {
			return err
		}
		fmt.Printf("Cancellation requested for %s\n", id)
		return nil
	}
	return cmd
}
