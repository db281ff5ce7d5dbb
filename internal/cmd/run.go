package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"artistbatch/internal/backlog"
	"artistbatch/internal/cleanup"
	"artistbatch/internal/config"
	"artistbatch/internal/event"
	"artistbatch/internal/logging"
	"artistbatch/internal/proc"
	"artistbatch/internal/session"
	"artistbatch/internal/supervisor"
)

var runQuiet bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the pending backlog until it is exhausted",
	Long: `Run loads the pending backlog (source minus completed), starts the
service process, and works through the items one at a time. Interrupt
with Ctrl-C at any point; completed items stay completed and the next
run resumes where this one stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runBatch(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress per-line process output")
	rootCmd.AddCommand(runCmd)
}

func runBatch(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logging.NewLogger(cfg.Workspace.DataRoot, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	bus := event.NewBus()
	attachPrinter(bus, runQuiet)

	paths := backlog.Paths{
		Source:   cfg.Workspace.SourceDBPath(),
		Progress: cfg.Workspace.ProgressDBPath(),
		Metadata: cfg.Workspace.MetadataDBPath(),
	}
	store, err := backlog.Open(ctx, paths, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := backlog.Watch(ctx, paths, bus, log); err != nil {
		log.Warn("store watcher unavailable", "error", err)
	}

	serviceMatcher, err := cfg.Sentinel.ServiceMatcher()
	if err != nil {
		return err
	}
	workerMatcher, err := cfg.Sentinel.WorkerMatcher()
	if err != nil {
		return err
	}

	sup := supervisor.New(supervisor.Options{
		ServiceSpec:     launchSpec(cfg.Service),
		WorkerSpec:      launchSpec(cfg.Worker.LaunchConfig),
		ServiceMatcher:  serviceMatcher,
		WorkerMatcher:   workerMatcher,
		Hook:            cleanup.NewHook(cfg.Cleanup.WorkerCommands, cfg.Cleanup.ServiceCommands, log),
		Bus:             bus,
		Log:             log,
		SuccessExitCode: cfg.Worker.SuccessExitCode,
	})

	controller := session.NewController(session.Options{
		Backlog:            store,
		Runner:             sup,
		Bus:                bus,
		Log:                log,
		HandoffPath:        cfg.Workspace.HandoffPath(),
		InterItemDelay:     cfg.Timing.InterItemDelay(),
		FailureBackoff:     cfg.Timing.FailureBackoff(),
		RestartDelay:       cfg.Timing.RestartDelay(),
		BudgetCap:          cfg.Budget.UnitCap,
		MaxAttemptsPerItem: cfg.Retry.MaxAttemptsPerItem,
	})

	status, err := controller.Run(ctx)
	if err != nil {
		log.Error("run aborted", "error", err)
		return fmt.Errorf("run aborted: %w", err)
	}

	fmt.Printf("run %s\n", status)
	log.Info("run finished", "status", status.String())
	return nil
}

func launchSpec(lc config.LaunchConfig) proc.LaunchSpec {
	return proc.LaunchSpec{Path: lc.Path, Args: lc.Args, Dir: lc.Dir}
}

// attachPrinter mirrors the event stream onto stdout for the operator.
func attachPrinter(bus *event.Bus, quiet bool) {
	if !quiet {
		bus.Subscribe("process.line", func(e event.Event) {
			if le, ok := e.(event.LogEvent); ok {
				fmt.Printf("[%s] %s %s\n", le.Source, le.Severity, le.Text)
			}
		})
	}
	bus.Subscribe("session.status", func(e event.Event) {
		if se, ok := e.(event.StatusEvent); ok {
			fmt.Printf("== %s\n", se.Text)
		}
	})
	bus.Subscribe("task.started", func(e event.Event) {
		if te, ok := e.(event.TaskStartedEvent); ok {
			fmt.Printf("-> %s\n", te.TaskID)
		}
	})
	bus.Subscribe("task.finished", func(e event.Event) {
		if te, ok := e.(event.TaskFinishedEvent); ok {
			if te.Units > 0 {
				fmt.Printf("<- %s: %s (%s, %d units)\n", te.TaskID, te.Outcome, te.Reason, te.Units)
				return
			}
			fmt.Printf("<- %s: %s (%s)\n", te.TaskID, te.Outcome, te.Reason)
		}
	})
}
