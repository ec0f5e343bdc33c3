package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// RegistryCmd returns the registry command: it prints the record types and
// fields the server accepts.
func RegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Show the record types and fields the server accepts",
		Args:  cobra.NoArgs,
	}
	server := addServerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		registry, err := NewClient(*server).Registry()
		if err != nil {
			return err
		}

		for _, def := range registry.Types {
			fmt.Printf("%s (%d records)\n", def.Name, registry.Counts[def.Name])
			for _, field := range def.Fields {
				var notes []string
				if field.Required {
					notes = append(notes, "required")
				}
				if field.NaturalKey {
					notes = append(notes, "natural key")
				}
				if field.Relation != "" {
					notes = append(notes, "relation to "+field.Relation)
				}
				suffix := ""
				if len(notes) > 0 {
					suffix = " (" + strings.Join(notes, ", ") + ")"
				}
				fmt.Printf("  %-20s %s%s\n", field.Name, field.Type, suffix)
			}
		}
		return nil
	}
	return cmd
}
