package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
)

var (
	explainManifestsDir string
	explainRedisAddr    string
	explainInstanceName string
)

var explainCmd = &cobra.Command{
	Use:   "explain <component>",
	Short: "Show a component's fully resolved configuration",
	Long: `Resolve and print the named component's effective configuration: its
manifest scheduling fields, trigger conditions, and every default after the
three-tier resolution (runtime overrides > manifest defaults > built-in
fallbacks).

With --redis, overrides come from the drey:{instance}:config:{component}
hash; otherwise DREY_-prefixed environment variables are consulted.

Examples:
  drey explain geo-velocity --manifests ./manifests
  drey explain geo-velocity --redis localhost:6379 --name prod`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().StringVarP(&explainManifestsDir, "manifests", "m", "manifests", "Manifest directory")
	explainCmd.Flags().StringVar(&explainRedisAddr, "redis", "", "Redis address for the override store (optional)")
	explainCmd.Flags().StringVarP(&explainInstanceName, "name", "n", "default", "Instance name for Redis key namespacing")
	rootCmd.AddCommand(explainCmd)
}

func runExplain(cmd *cobra.Command, args []string) error {
	name := args[0]

	res, closer, err := buildResolver(explainManifestsDir, explainRedisAddr, explainInstanceName)
	if err != nil {
		return err
	}
	defer closer()

	m, hasManifest := res.Manifest(name)
	if hasManifest {
		printer.Step("component %s\n", name)
		printer.Printf("  priority:  %d\n", m.EffectivePriority())
		printer.Printf("  enabled:   %v\n", m.IsEnabled())
		printer.Printf("  optional:  %v\n", m.IsOptional())
		if m.Lane.Name != "" {
			printer.Printf("  lane:      %s (max %d concurrent)\n", m.Lane.Name, m.Lane.MaxConcurrency)
		}
		conds := m.Conditions()
		if len(conds) > 0 {
			printer.Printf("  triggers:\n")
			for _, c := range conds {
				printer.Printf("    - %s\n", c.Description())
			}
		}
	} else {
		printer.Warning("no manifest for %q, showing contract defaults\n", name)
	}

	d := res.Defaults(name)
	printer.Printf("  weights:    base=%.2f bot=%.2f human=%.2f verified=%.2f early_exit=%.2f\n",
		d.Weights.Base, d.Weights.BotSignal, d.Weights.HumanSignal, d.Weights.Verified, d.Weights.EarlyExit)
	printer.Printf("  confidence: neutral=%.2f bot=%.2f human=%.2f strong=%.2f high=%.2f low=%.2f escalation=%.2f\n",
		d.Confidence.Neutral, d.Confidence.BotDetected, d.Confidence.HumanIndicated,
		d.Confidence.StrongSignal, d.Confidence.HighThreshold, d.Confidence.LowThreshold,
		d.Confidence.EscalationThreshold)
	printer.Printf("  timing:     execution=%s trigger=%s cache_refresh=%s\n",
		d.Timing.ExecutionTimeout, d.Timing.TriggerTimeout, d.Timing.CacheRefresh)
	printer.Printf("  features:   detailed_logging=%v enable_cache=%v can_early_exit=%v can_escalate=%v\n",
		d.Features.DetailedLogging, d.Features.EnableCache, d.Features.CanEarlyExit, d.Features.CanEscalate)

	if len(d.Parameters) > 0 {
		keys := make([]string, 0, len(d.Parameters))
		for k := range d.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		printer.Printf("  parameters:\n")
		for _, k := range keys {
			printer.Printf("    %s: %v\n", k, d.Parameters[k])
		}
	}

	if !hasManifest && len(d.Parameters) == 0 {
		printer.Printf("  (all values are built-in fallbacks)\n")
	}
	return nil
}
