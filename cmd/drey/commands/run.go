package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/component"
	"github.com/dyluth/drey/internal/manifest"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/scheduler"
	"github.com/dyluth/drey/pkg/blackboard"
)

var (
	runManifestsDir string
	runRedisAddr    string
	runInstanceName string
	runRequestID    string
	runSeeds        []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate a run over the loaded manifests",
	Long: `Execute a dry run of the wave scheduler: every manifest becomes a
simulated component that emits its declared on_complete signals with
placeholder values, so trigger chains, wave ordering, lanes and escalation
can be exercised without real detectors.

Seed facts gate the first wave, e.g. --seed input.ready=true.
With --redis, run events are published to drey:{instance}:run_events for
'drey watch' and overrides are read from the instance's config hashes.

Examples:
  drey run --manifests ./manifests --seed input.ready=true
  drey run --redis localhost:6379 --name prod --seed input.ready=true`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runManifestsDir, "manifests", "m", "manifests", "Manifest directory")
	runCmd.Flags().StringVar(&runRedisAddr, "redis", "", "Redis address for overrides and run events (optional)")
	runCmd.Flags().StringVarP(&runInstanceName, "name", "n", "default", "Instance name for Redis key namespacing")
	runCmd.Flags().StringVar(&runRequestID, "request", "", "Request ID (generated if omitted)")
	runCmd.Flags().StringArrayVar(&runSeeds, "seed", nil, "Seed signal as key=value (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	res, closer, err := buildResolver(runManifestsDir, runRedisAddr, runInstanceName)
	if err != nil {
		return err
	}
	defer closer()

	manifests := res.AllManifests()
	if len(manifests) == 0 {
		return printer.Error(
			"no manifests loaded",
			fmt.Sprintf("Directory %s contains no valid manifests.", runManifestsDir),
			[]string{"Check the --manifests path", "Run 'drey validate' to see per-file problems"},
		)
	}

	var sink scheduler.EventSink
	if runRedisAddr != "" {
		rs, err := scheduler.NewRedisSink(&redis.Options{Addr: runRedisAddr}, runInstanceName)
		if err != nil {
			return fmt.Errorf("failed to create run event sink: %w", err)
		}
		defer rs.Close()
		sink = rs
	}

	registry := component.NewRegistry()
	for _, m := range manifests {
		m := m
		err := registry.Register(m.Name, func(cfg component.Config) (component.Component, error) {
			return component.NewFunc(cfg, simulatedBody(m, cfg)), nil
		})
		if err != nil {
			return fmt.Errorf("failed to register %q: %w", m.Name, err)
		}
	}

	components, err := registry.Build(res, component.AllowAll{})
	if err != nil {
		return printer.Error(
			"failed to build components",
			err.Error(),
			[]string{"Every non-optional manifest needs a registered component"},
		)
	}

	seeds, err := parseSeeds(runSeeds)
	if err != nil {
		return printer.Error(
			"invalid seed signal",
			err.Error(),
			[]string{"Use --seed key=value, e.g. --seed input.ready=true"},
		)
	}

	engine := scheduler.NewEngine(res, runInstanceName, sink)
	state, report, runErr := engine.Run(ctx, scheduler.Request{
		RequestID:  runRequestID,
		Seed:       seeds,
		Components: components,
	})

	printer.RunReport(report)
	printer.Printf("score %.3f, %s\n", state.CurrentScore(), printer.OutcomeSummary(report))

	if runErr != nil {
		return printer.Error(
			"run aborted",
			runErr.Error(),
			[]string{"Inspect the report above for the failing component"},
		)
	}
	return nil
}

// simulatedBody emits the manifest's declared on_complete signals with
// placeholder values, using the resolved neutral confidence.
func simulatedBody(m *manifest.Manifest, cfg component.Config) component.Func {
	return func(ctx context.Context, _ *blackboard.State) ([]blackboard.Signal, error) {
		signals := make([]blackboard.Signal, 0, len(m.Emits.OnComplete))
		for _, em := range m.Emits.OnComplete {
			s, err := blackboard.NewSignal(em.Key, placeholderValue(em.Type), cfg.Defaults.Confidence.Neutral, m.Name, cfg.Tags...)
			if err != nil {
				return nil, fmt.Errorf("declared emission %q: %w", em.Key, err)
			}
			signals = append(signals, s)
		}
		return signals, nil
	}
}

func placeholderValue(typeName string) blackboard.Value {
	switch typeName {
	case "int":
		return blackboard.IntValue(0)
	case "float":
		return blackboard.FloatValue(0)
	case "string":
		return blackboard.StringValue("simulated")
	case "list":
		return blackboard.ListValue()
	default:
		return blackboard.BoolValue(true)
	}
}

// parseSeeds converts key=value pairs into starting signals. Values parse as
// bool, then number, then fall back to string.
func parseSeeds(pairs []string) ([]blackboard.Signal, error) {
	signals := make([]blackboard.Signal, 0, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("seed %q is not key=value", pair)
		}
		v, err := blackboard.FromAny(coerceSeed(raw))
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", pair, err)
		}
		s, err := blackboard.NewSignal(key, v, 1.0, "caller")
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", pair, err)
		}
		signals = append(signals, s)
	}
	return signals, nil
}

func coerceSeed(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err == nil {
		return f
	}
	return raw
}
