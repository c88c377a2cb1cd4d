package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Browse what the EasyDB instance offers for import",
}

var remoteTagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List the tags records can be imported by",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		queries, err := env.Remote(cmd.Context())
		if err != nil {
			return err
		}
		tags, err := queries.Tags(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-8s %-24s %s\n", "ID", "GROUP", "NAME")
		for _, tag := range tags {
			fmt.Fprintf(out, "%-8d %-24s %s\n", tag.ID, tag.Group, tag.Name)
		}
		return nil
	},
}

var remoteTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the remote object types and whether a mapping handles them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		queries, err := env.Remote(cmd.Context())
		if err != nil {
			return err
		}
		types, err := queries.ObjectTypes(cmd.Context())
		if err != nil {
			return err
		}

		supported := map[string]bool{}
		for _, objectType := range env.Registry().ObjectTypes() {
			supported[objectType] = true
		}

		out := cmd.OutOrStdout()
		for _, objectType := range types {
			marker := " "
			if supported[objectType] {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, objectType)
		}
		return nil
	},
}

func init() {
	remoteCmd.AddCommand(remoteTagsCmd, remoteTypesCmd)
}
