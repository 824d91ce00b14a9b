package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List registered analysis methods and toolkits",
	RunE:  runMethods,
}

func runMethods(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tVERSION\tDOC")
	for _, def := range builtinMethods().List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", def.Name, def.Version, def.Doc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nToolkits:")
	for _, key := range builtinToolkits().Keys() {
		fmt.Fprintf(out, "  %s\n", key)
	}
	return nil
}
