package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"openoa/internal/store"
)

var runsFlags struct {
	dbPath string
	limit  int
}

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show run history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	f := runsCmd.Flags()
	f.StringVar(&runsFlags.dbPath, "db", store.DefaultDBPath, "Run history database")
	f.IntVar(&runsFlags.limit, "limit", 20, "Max runs to list (0 = all)")
}

func runRuns(cmd *cobra.Command, args []string) error {
	st, err := store.Open(runsFlags.dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		return showRun(out, st, args[0])
	}

	runs, err := st.ListRuns(runsFlags.limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMETHOD\tENGINE\tSTATE\tSTARTED\tELAPSED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s@%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.Method, r.Version, r.Engine, r.State,
			r.StartedAt.Format(time.RFC3339), r.Elapsed)
	}
	return tw.Flush()
}

func showRun(out io.Writer, st store.Store, id string) error {
	r, err := st.GetRun(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run:     %s\n", r.ID)
	fmt.Fprintf(out, "Method:  %s@%s\n", r.Method, r.Version)
	fmt.Fprintf(out, "Engine:  %s (%s)\n", r.Engine, r.Mode)
	fmt.Fprintf(out, "State:   %s\n", r.State)
	if r.FailedStep != "" {
		fmt.Fprintf(out, "Failed:  %s: %s\n", r.FailedStep, r.Error)
	}
	fmt.Fprintf(out, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Elapsed: %s\n", r.Elapsed)
	if len(r.Params) > 0 {
		fmt.Fprintf(out, "Params:\n")
		for k, v := range r.Params {
			fmt.Fprintf(out, "  %s: %v\n", k, v)
		}
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	if len(r.Provenance) > 0 {
		fmt.Fprintf(out, "Provenance: (%d steps)\n", len(r.Provenance))
		for _, p := range r.Provenance {
			if p.Toolkit != "" {
				fmt.Fprintf(out, "  %s/%s\n", p.Toolkit, p.Step)
			} else {
				fmt.Fprintf(out, "  %s\n", p.Step)
			}
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
