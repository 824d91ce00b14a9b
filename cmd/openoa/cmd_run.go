package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"openoa/internal/logging"
	"openoa/internal/session"
	"openoa/internal/store"
	"openoa/pkg/method"
)

var runFlags struct {
	sessionPath string
	sets        []string
	outPath     string
	outFormat   string
}

var runCmd = &cobra.Command{
	Use:   "run <method[@version]>",
	Short: "Run a method against the datasets in a session file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.sessionPath, "session", "", "Session YAML file (required)")
	f.StringArrayVar(&runFlags.sets, "set", nil, "Config override, key=value (repeatable)")
	f.StringVar(&runFlags.outPath, "out", "", "Write the result payload to this file (default stdout)")
	f.StringVar(&runFlags.outFormat, "format", "csv", "Result payload format: csv or json")

	_ = runCmd.MarkFlagRequired("session")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logging.New("cli")

	def, err := lookupMethod(builtinMethods(), args[0])
	if err != nil {
		return err
	}
	values, err := parseSets(runFlags.sets)
	if err != nil {
		return err
	}

	cfg, err := session.Load(runFlags.sessionPath)
	if err != nil {
		return err
	}
	if cfg.Log.Level != "" || cfg.Log.Format != "" {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logging.Init(level, cfg.Log.Format)
	}
	eng, err := cfg.BuildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	handles, err := cfg.LoadDatasets(eng)
	if err != nil {
		return err
	}

	ec := method.NewContext(def, eng, builtinToolkits())
	for role, h := range handles {
		if err := ec.Bind(role, h); err != nil {
			return err
		}
	}
	ec.Configure(values)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ec.Cancel()
	}()

	log.Info("running method", "method", def.Key(), "engine", eng.Name(), "run_id", ec.RunID())
	result, runErr := ec.Run(ctx)

	if cfg.Store.Path != "" {
		rec := storeRun(ec, result, runErr)
		if rec.Method == "" {
			rec.Method, rec.Version = def.Name, def.Version
			rec.Engine, rec.Mode = eng.Name(), string(eng.Mode())
		}
		if err := persistRun(cfg.Store.Path, rec); err != nil {
			log.Warn("run history not saved", "error", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", ec.RunID(), runErr)
	}

	for _, w := range result.Warnings {
		log.Warn(w, "run_id", result.RunID)
	}
	log.Info("run succeeded", "run_id", result.RunID, "elapsed", result.Elapsed, "rows", result.Payload.NumRows())
	return writePayload(cmd, result)
}

// parseSets turns --set key=value pairs into typed config values. Values
// go through YAML scalar parsing, so 0.2 is a float, true a bool, and
// anything unparseable a string.
func parseSets(sets []string) (map[string]any, error) {
	values := make(map[string]any, len(sets))
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: want key=value", s)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		values[key] = v
	}
	return values, nil
}

func persistRun(dbPath string, rec *store.Run) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveRun(rec)
}

// storeRun flattens an execution outcome to the persisted record. On
// failure the Result is nil and the record is built from the context.
func storeRun(ec *method.ExecutionContext, result *method.Result, runErr error) *store.Run {
	r := &store.Run{
		ID:    ec.RunID(),
		State: string(ec.State()),
	}
	for _, p := range ec.Provenance() {
		r.Provenance = append(r.Provenance, store.ProvenanceRecord{
			Step:   p.Step,
			Params: map[string]any{"detail": p.Detail},
		})
	}
	if f := ec.Failure(); f != nil {
		r.FailedStep = string(f.Step)
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if result != nil {
		r.Method = result.Method
		r.Version = result.Version
		r.Engine = result.Engine
		r.Mode = string(result.Mode)
		r.Params = result.Params
		r.Warnings = result.Warnings
		r.StartedAt = result.StartedAt
		r.Elapsed = result.Elapsed
		for _, t := range result.Trace {
			r.Provenance = append(r.Provenance, store.ProvenanceRecord{
				Toolkit: t.Toolkit,
				Step:    t.Step,
				Params:  map[string]any{"schema": t.Schema, "ordered": t.Ordered},
			})
		}
	}
	return r
}

func writePayload(cmd *cobra.Command, result *method.Result) error {
	out := cmd.OutOrStdout()
	if runFlags.outPath != "" {
		f, err := os.Create(runFlags.outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	switch runFlags.outFormat {
	case "csv":
		return result.Payload.WriteCSV(out)
	case "json":
		data, err := result.Payload.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	}
	return fmt.Errorf("unknown format %q", runFlags.outFormat)
}
