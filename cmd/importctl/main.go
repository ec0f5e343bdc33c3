package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidstormer/fdp-app-sub000/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "importctl",
		Short: "importctl - client for the bulk record import server",
		Long: `importctl drives a running import server: it plans, validates, and
commits spreadsheet files, inspects submissions, downloads reports, and
reverses committed imports.`,
	}

	rootCmd.AddCommand(cli.PlanCmd())
	rootCmd.AddCommand(cli.ValidateCmd())
	rootCmd.AddCommand(cli.CommitCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.ReportCmd())
	rootCmd.AddCommand(cli.ReverseCmd())
	rootCmd.AddCommand(cli.CancelCmd())
	rootCmd.AddCommand(cli.RegistryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
