package commands

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/scheduler"
	"github.com/dyluth/drey/internal/watch"
)

var (
	watchRedisAddr    string
	watchInstanceName string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live run events",
	Long: `Stream run events for an instance as they occur: run start and finish,
per-component outcomes, wave commits and escalations.

Output Formats:
  default - Human-readable lines
  json    - Line-delimited JSON for programmatic processing

Examples:
  drey watch --redis localhost:6379 --name prod
  drey watch --redis localhost:6379 --output=json > events.jsonl`,
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().StringVar(&watchRedisAddr, "redis", "localhost:6379", "Redis address")
	watchCmd.Flags().StringVarP(&watchInstanceName, "name", "n", "default", "Instance name")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	if watchOutputFormat != "default" && watchOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			"Unknown format: "+watchOutputFormat,
			[]string{"Valid formats: default, json"},
		)
	}

	follower, err := watch.NewFollower(&redis.Options{Addr: watchRedisAddr}, watchInstanceName)
	if err != nil {
		return printer.Error(
			"failed to create follower",
			err.Error(),
			[]string{"Check the --redis address and --name instance"},
		)
	}
	defer follower.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer.Step("watching %s on %s (Ctrl+C to stop)\n", watchInstanceName, watchRedisAddr)

	err = follower.Follow(ctx, func(ev scheduler.Event) {
		if watchOutputFormat == "json" {
			if line, mErr := json.Marshal(ev); mErr == nil {
				printer.Println(string(line))
			}
			return
		}
		printEvent(ev)
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

func printEvent(ev scheduler.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Type {
	case scheduler.EventRunStarted:
		printer.Step("%s run %s started (request %s)\n", ts, ev.RunID, ev.RequestID)
	case scheduler.EventRunCompleted:
		printer.Success("%s run %s completed\n", ts, ev.RunID)
	case scheduler.EventRunFailed:
		printer.Warning("%s run %s failed: %s\n", ts, ev.RunID, ev.Detail)
	case scheduler.EventWaveCommitted:
		printer.Printf("%s   wave %d committed\n", ts, ev.Wave)
	case scheduler.EventEscalationFired:
		printer.Warning("%s   escalation -> %s (%s)\n", ts, ev.Component, ev.Detail)
	case scheduler.EventComponentDone:
		suffix := ""
		if ev.Detail != "" {
			suffix = "  " + ev.Detail
		}
		printer.Printf("%s   %s: %s%s\n", ts, ev.Component, ev.Outcome, suffix)
	default:
		printer.Printf("%s   %s\n", ts, ev.Type)
	}
}
