package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"openoa/pkg/method"
)

var describeCmd = &cobra.Command{
	Use:   "describe <method[@version]>",
	Short: "Show a method's roles, configuration, and toolkits",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	def, err := lookupMethod(builtinMethods(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%s@%s\n", def.Name, def.Version)
	if def.Doc != "" {
		fmt.Fprintf(out, "  %s\n", def.Doc)
	}

	fmt.Fprintln(out, "\nRoles:")
	for _, role := range def.Roles {
		fmt.Fprintf(out, "  %s: %s\n", role.Name, role.Doc)
		for _, col := range role.Columns {
			fmt.Fprintf(out, "    %s %s\n", col.Name, col.Kind)
		}
	}

	if len(def.Config) > 0 {
		fmt.Fprintln(out, "\nConfig:")
		keys := make([]string, 0, len(def.Config))
		for k := range def.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			spec := def.Config[k]
			fmt.Fprintf(out, "  %s (%s)", k, spec.Kind)
			if spec.Required {
				fmt.Fprint(out, " [required]")
			} else if spec.Default != nil {
				fmt.Fprintf(out, " [default %v]", spec.Default)
			}
			if len(spec.OneOf) > 0 {
				fmt.Fprintf(out, " one of %v", spec.OneOf)
			}
			fmt.Fprintf(out, ": %s\n", spec.Doc)
		}
	}

	if len(def.Toolkits) > 0 {
		fmt.Fprintln(out, "\nToolkits:")
		for _, key := range def.Toolkits {
			fmt.Fprintf(out, "  %s\n", key)
		}
	}
	return nil
}

// lookupMethod resolves "name" or "name@version" against the registry.
// A bare name matches only when exactly one version is registered.
func lookupMethod(reg *method.Registry, key string) (*method.Definition, error) {
	if name, ver, ok := splitKey(key); ok {
		return reg.Lookup(name, ver)
	}
	var found *method.Definition
	for _, def := range reg.List() {
		if def.Name != key {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("method %q has multiple versions, use name@version", key)
		}
		found = def
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", method.ErrNotFound, key)
	}
	return found, nil
}

func splitKey(key string) (name, version string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '@' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
