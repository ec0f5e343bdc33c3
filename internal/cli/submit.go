package cli

import (
	"fmt"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ValidateCmd returns the validate command: a dry run that reports what a
// commit of the file would do without writing any records.
func ValidateCmd() *cobra.Command {
	var mode string
	var wait bool

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Dry-run a file and report per-row outcomes without writing records",
		Args:  cobra.ExactArgs(1),
	}
	server := addServerFlag(cmd)
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeCreate), "import mode: create or update")
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the submission finishes")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSubmit(NewClient(*server), args[0], domain.Mode(mode), true, wait)
	}
	return cmd
}

// CommitCmd returns the commit command: it imports the file for real.
func CommitCmd() *cobra.Command {
	var mode string
	var wait bool

	cmd := &cobra.Command{
		Use:   "commit <file>",
		Short: "Import a file, creating and updating records",
		Args:  cobra.ExactArgs(1),
	}
	server := addServerFlag(cmd)
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeCreate), "import mode: create or update")
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the submission finishes")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSubmit(NewClient(*server), args[0], domain.Mode(mode), false, wait)
	}
	return cmd
}

func runSubmit(client *Client, path string, mode domain.Mode, dryRun, wait bool) error {
	sub, err := client.Submit(path, mode, dryRun)
	if err != nil {
		return err
	}
	fmt.Printf("Submission %s accepted (%s, mode=%s)\n", sub.ID, sub.FileName, sub.Mode)

	if !wait {
		fmt.Printf("Check progress with: importctl status %s\n", sub.ID)
		return nil
	}

	sub, err = pollSubmission(client, sub.ID)
	if err != nil {
		return err
	}
	printSubmission(sub)
	return nil
}

func pollSubmission(client *Client, id uuid.UUID) (domain.Submission, error) {
	for {
		sub, err := client.Submission(id)
		if err != nil {
			return sub, err
		}
		if sub.Status.Terminal() || (sub.DryRun && sub.Status == domain.StatusValidating && sub.CompletedAt != nil) {
			return sub, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}
