package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"openoa/internal/logging"
	"openoa/pkg/method"
	"openoa/pkg/methods/aep"
	"openoa/pkg/toolkit"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "openoa",
	Short: "Operational assessment methods over pluggable analysis engines",
	Long: "openoa runs registered plant-analysis methods against operational data.\n" +
		"The same method produces byte-identical results on the local, pool,\n" +
		"and cluster engines.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(rootFlags.logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, rootFlags.logFormat)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.Version = version
}

// builtinMethods returns the method catalog shipped with the binary.
func builtinMethods() *method.Registry {
	r := method.NewRegistry()
	if err := r.Register(aep.Definition()); err != nil {
		panic(err) // builtin keys are unique by construction
	}
	return r
}

// builtinToolkits returns the standard toolkit catalog.
func builtinToolkits() *toolkit.Registry { return toolkit.Builtins() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
