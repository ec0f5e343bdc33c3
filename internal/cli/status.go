package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// StatusCmd returns the status command. With an id it shows one submission;
// without, it lists recent submissions newest first.
func StatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [submission-id]",
		Short: "Show a submission, or list recent submissions",
		Args:  cobra.MaximumNArgs(1),
	}
	server := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		client := NewClient(*server)

		if len(args) == 1 {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid submission id %q: %w", args[0], err)
			}
			sub, err := client.Submission(id)
			if err != nil {
				return err
			}
			printSubmission(sub)
			return nil
		}

		subs, err := client.Submissions()
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Println("No submissions yet.")
			return nil
		}
		for _, sub := range subs {
			mode := string(sub.Mode)
			if sub.DryRun {
				mode += ", dry run"
			}
			fmt.Printf("%s  %s  %s (%s)\n", sub.ID, statusLabel(sub.Status), sub.FileName, mode)
		}
		return nil
	}
	return cmd
}

func printSubmission(sub domain.Submission) {
	fmt.Printf("Submission: %s\n", sub.ID)
	fmt.Printf("  File:   %s\n", sub.FileName)
	fmt.Printf("  Mode:   %s\n", sub.Mode)
	fmt.Printf("  DryRun: %v\n", sub.DryRun)
	fmt.Printf("  Status: %s\n", statusLabel(sub.Status))
	if sub.CompletedAt != nil && sub.StartedAt != nil {
		fmt.Printf("  Took:   %s\n", sub.CompletedAt.Sub(*sub.StartedAt).Round(time.Millisecond))
	}
	for _, e := range sub.Errors {
		fmt.Printf("  Error:  %s\n", e)
	}

	if len(sub.Counts) == 0 {
		return
	}
	types := make([]string, 0, len(sub.Counts))
	for recordType := range sub.Counts {
		types = append(types, recordType)
	}
	sort.Strings(types)
	fmt.Println("  Counts:")
	for _, recordType := range types {
		c := sub.Counts[recordType]
		fmt.Printf("    %-20s created=%d updated=%d errored=%d\n", recordType, c.Created, c.Updated, c.Errored)
	}
}

func statusLabel(status domain.Status) string {
	upper := strings.ToUpper(string(status))
	switch status {
	case domain.StatusCommitted, domain.StatusValidating:
		return color.New(color.FgGreen).Sprint(upper)
	case domain.StatusPartiallyCommitted, domain.StatusCancelled:
		return color.New(color.FgYellow).Sprint(upper)
	case domain.StatusPlanningFailed, domain.StatusValidationFailed:
		return color.New(color.FgRed).Sprint(upper)
	case domain.StatusReversed:
		return color.New(color.FgHiBlue).Sprint(upper)
	default:
		return upper
	}
}
