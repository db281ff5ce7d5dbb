package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"artistbatch/internal/backlog"
	apperrors "artistbatch/internal/errors"
	"artistbatch/internal/event"
	"artistbatch/internal/logging"
	"artistbatch/internal/supervisor"
)

// Status is the final resolution of a whole run.
type Status int

const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusFailed
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// sessionEnd is why one session (one backlog pass) stopped.
type sessionEnd int

const (
	sessionCompleted sessionEnd = iota
	sessionDrained
	sessionCancelled
)

// Backlog is the slice of the backlog store the controller uses.
type Backlog interface {
	Pending(ctx context.Context) ([]string, error)
	MarkComplete(ctx context.Context, id string) error
	TaskMetrics(ctx context.Context, id string) backlog.Metrics
}

// Runner executes one task attempt. *supervisor.Supervisor satisfies it.
type Runner interface {
	Run(ctx context.Context, taskID string, st supervisor.SessionState) (supervisor.Result, error)
	FullCleanup(ctx context.Context)
}

// Options configures a Controller.
type Options struct {
	Backlog Backlog
	Runner  Runner
	Bus     *event.Bus
	Log     *logging.Logger

	// HandoffPath is the file each task id is written to before its attempt
	// and emptied when a session drains.
	HandoffPath string

	// InterItemDelay is the pause between successful items.
	InterItemDelay time.Duration
	// FailureBackoff is the pause before retrying a failed item.
	FailureBackoff time.Duration
	// RestartDelay is the pause before a drained session restarts.
	RestartDelay time.Duration

	// BudgetCap is the per-session unit budget; zero disables it.
	BudgetCap int
	// MaxAttemptsPerItem caps attempts for one item within a session; zero
	// means unbounded.
	MaxAttemptsPerItem int

	// Sleep replaces the delay primitive in tests; nil means a real,
	// cancellable sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Controller runs sessions until the backlog is exhausted, the run is
// cancelled, or the environment fails.
type Controller struct {
	opts    Options
	bus     *event.Bus
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	session int
	phase   Phase
}

// NewController creates a Controller.
func NewController(opts Options) *Controller {
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	if opts.Log == nil {
		opts.Log = logging.NopLogger()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Controller{
		opts:  opts,
		bus:   opts.Bus,
		log:   opts.Log,
		sleep: sleep,
		phase: PhaseLoadingBacklog,
	}
}

// Run executes sessions back to back until the backlog is empty, ctx is
// cancelled, or an environment failure surfaces. Drained sessions (budget
// stop or exhausted retries) restart automatically after the restart delay
// with a freshly loaded backlog, so completions from the drained session
// are never reprocessed.
func (c *Controller) Run(ctx context.Context) (Status, error) {
	for {
		c.session++
		log := c.log.WithSession(c.session)
		log.Info("session starting")

		end, err := c.runSession(ctx, log)
		if err != nil {
			c.setPhase(PhaseTerminal)
			return StatusFailed, err
		}

		switch end {
		case sessionCompleted:
			c.setPhase(PhaseTerminal)
			log.Info("backlog exhausted, run complete")
			return StatusCompleted, nil

		case sessionCancelled:
			c.drainWorkspace(ctx, log)
			c.setPhase(PhaseTerminal)
			log.Info("run cancelled")
			return StatusCancelled, nil

		case sessionDrained:
			c.setPhase(PhaseDraining)
			c.drainWorkspace(ctx, log)
			c.bus.Publish(event.NewStatusEvent(
				fmt.Sprintf("session drained, restarting in %s", c.opts.RestartDelay)))
			if err := c.sleep(ctx, c.opts.RestartDelay); err != nil {
				c.setPhase(PhaseTerminal)
				return StatusCancelled, nil
			}
		}
	}
}

// runSession is one pass over a backlog snapshot.
func (c *Controller) runSession(ctx context.Context, log *logging.Logger) (sessionEnd, error) {
	c.setPhase(PhaseLoadingBacklog)

	pending, err := c.opts.Backlog.Pending(ctx)
	if err != nil {
		return 0, err
	}
	log.Info("backlog loaded", "pending", len(pending))
	if len(pending) == 0 {
		return sessionCompleted, nil
	}

	st := NewState(c.opts.BudgetCap)
	c.setPhase(PhaseProcessingItem)

	for i, id := range pending {
		end, err := c.processItem(ctx, log, st, id)
		if err != nil {
			return 0, err
		}
		if end != sessionCompleted {
			return end, nil
		}
		if i < len(pending)-1 {
			if err := c.sleep(ctx, c.opts.InterItemDelay); err != nil {
				return sessionCancelled, nil
			}
		}
	}
	return sessionCompleted, nil
}

// processItem runs one item to resolution, retrying failures in place.
// sessionCompleted means the item succeeded and the session may advance.
func (c *Controller) processItem(ctx context.Context, log *logging.Logger, st *State, id string) (sessionEnd, error) {
	tlog := log.WithTask(id)
	attempts := 0

	for {
		attempts++
		if err := c.writeHandoff(id); err != nil {
			return 0, err
		}

		c.bus.Publish(event.NewTaskStartedEvent(id))
		res, err := c.opts.Runner.Run(ctx, id, st)
		if err != nil {
			return 0, err
		}

		switch res.Outcome {
		case supervisor.OutcomeSuccess:
			units := c.recordSuccess(ctx, tlog, st, id, res)
			if st.BudgetExceeded() {
				c.bus.Publish(event.NewStatusEvent(fmt.Sprintf(
					"unit budget exceeded (%d units), stopping session", st.UnitsProcessed())))
				tlog.Info("budget cap exceeded", "units", st.UnitsProcessed(), "last_item_units", units)
				return sessionDrained, nil
			}
			return sessionCompleted, nil

		case supervisor.OutcomeCancelled:
			c.bus.Publish(event.NewTaskFinishedEvent(id, res.Outcome.String(), res.Reason, 0))
			tlog.Info("attempt cancelled", "reason", res.Reason)
			return sessionCancelled, nil

		default:
			c.bus.Publish(event.NewTaskFinishedEvent(id, res.Outcome.String(), res.Reason, 0))
			tlog.Warn("attempt failed", "attempt", attempts, "reason", res.Reason)

			if c.opts.MaxAttemptsPerItem > 0 && attempts >= c.opts.MaxAttemptsPerItem {
				c.bus.Publish(event.NewStatusEvent(fmt.Sprintf(
					"item %s failed %d times, draining session", id, attempts)))
				return sessionDrained, nil
			}
			c.bus.Publish(event.NewStatusEvent(fmt.Sprintf(
				"retrying %s in %s", id, c.opts.FailureBackoff)))
			if err := c.sleep(ctx, c.opts.FailureBackoff); err != nil {
				return sessionCancelled, nil
			}
		}
	}
}

// recordSuccess persists the completion, fetches enrichment, and
// accumulates units. A persistence failure is logged and absorbed: the
// task itself already succeeded and the insert is idempotent on the next
// session anyway.
func (c *Controller) recordSuccess(ctx context.Context, tlog *logging.Logger, st *State, id string, res supervisor.Result) int {
	if err := c.opts.Backlog.MarkComplete(ctx, id); err != nil {
		if apperrors.Is(err, apperrors.ErrPersistence) {
			tlog.Error("completion record not written, item will be retried next session", "error", err)
			c.bus.Publish(event.NewStatusEvent(
				fmt.Sprintf("warning: completion of %s not persisted", id)))
		} else {
			tlog.Error("completion record write failed", "error", err)
		}
	}

	m := c.opts.Backlog.TaskMetrics(ctx, id)
	st.AddUnits(m.Units)
	tlog.Info("item completed", "display_name", m.DisplayName, "units", m.Units,
		"session_units", st.UnitsProcessed())
	c.bus.Publish(event.NewTaskFinishedEvent(id, res.Outcome.String(), res.Reason, m.Units))
	return m.Units
}

// drainWorkspace empties the handoff file and tears everything down so a
// later session (or an operator) finds a clean slate.
func (c *Controller) drainWorkspace(ctx context.Context, log *logging.Logger) {
	if err := os.WriteFile(c.opts.HandoffPath, nil, 0o644); err != nil {
		log.Warn("failed to empty handoff file", "error", err)
	}
	c.opts.Runner.FullCleanup(ctx)
}

func (c *Controller) writeHandoff(id string) error {
	if err := os.WriteFile(c.opts.HandoffPath, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write handoff file %s: %w", c.opts.HandoffPath, err)
	}
	return nil
}

func (c *Controller) setPhase(p Phase) {
	if p == c.phase {
		return
	}
	c.bus.Publish(event.NewSessionStateEvent(c.phase.String(), p.String()))
	c.phase = p
}

// sleepCtx pauses for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
