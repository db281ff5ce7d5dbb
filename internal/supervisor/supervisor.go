// Package supervisor manages the two external processes behind one task
// attempt: the long-lived service process, reused across attempts, and the
// per-task worker process. It resolves each attempt into exactly one
// outcome by racing the worker's sentinel signals against its exit and the
// caller's cancellation, and it guarantees worker cleanup on every path.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"artistbatch/internal/cleanup"
	apperrors "artistbatch/internal/errors"
	"artistbatch/internal/event"
	"artistbatch/internal/logging"
	"artistbatch/internal/proc"
	"artistbatch/internal/sentinel"
)

// Outcome is the resolution of one task attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeCancelled
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is one attempt's outcome with the reason it resolved that way.
type Result struct {
	Outcome Outcome
	Reason  string
}

// ProcessHandle is the part of a launched process the supervisor needs.
// *proc.Handle satisfies it; tests substitute fakes.
type ProcessHandle interface {
	Done() <-chan struct{}
	ExitCode() int
	Alive() bool
	Kill()
	Pid() int
}

// Launcher starts external processes. proc.Launch satisfies it via
// LaunchFunc; tests substitute fakes.
type Launcher interface {
	Launch(spec proc.LaunchSpec, onLine proc.LineFunc) (ProcessHandle, error)
}

// LaunchFunc adapts a plain launch function to the Launcher interface.
type LaunchFunc func(spec proc.LaunchSpec, onLine proc.LineFunc) (ProcessHandle, error)

func (f LaunchFunc) Launch(spec proc.LaunchSpec, onLine proc.LineFunc) (ProcessHandle, error) {
	return f(spec, onLine)
}

// DefaultLauncher launches real OS processes via the proc package.
var DefaultLauncher Launcher = LaunchFunc(
	func(spec proc.LaunchSpec, onLine proc.LineFunc) (ProcessHandle, error) {
		return proc.Launch(spec, onLine)
	})

// SessionState is the slice of session state the supervisor may touch: the
// intent flag that requests service teardown. The decision to tear down is
// business logic here; the flag's lifetime belongs to the session.
type SessionState interface {
	MarkFullCleanup()
	FullCleanupNeeded() bool
}

// serviceState tracks the long-lived service process between attempts.
// The handle slot is nullable: nil means no service is running and the
// next attempt must start one.
type serviceState struct {
	handle ProcessHandle
	ready  chan struct{}
	down   chan struct{}

	readyOnce sync.Once
	downOnce  sync.Once
}

func (s *serviceState) markReady() { s.readyOnce.Do(func() { close(s.ready) }) }
func (s *serviceState) markDown()  { s.downOnce.Do(func() { close(s.down) }) }

// Supervisor owns the service handle across attempts and one worker handle
// per attempt. Not safe for concurrent Run calls; the session loop is the
// only caller.
type Supervisor struct {
	launcher       Launcher
	serviceSpec    proc.LaunchSpec
	workerSpec     proc.LaunchSpec
	serviceMatcher *sentinel.Matcher
	workerMatcher  *sentinel.Matcher
	hook           *cleanup.Hook
	bus            *event.Bus
	log            *logging.Logger

	successExitCode int

	service *serviceState
}

// Options configures a Supervisor.
type Options struct {
	// Launcher starts processes; nil means DefaultLauncher.
	Launcher Launcher
	// ServiceSpec and WorkerSpec are the two fixed launch specifications.
	ServiceSpec proc.LaunchSpec
	WorkerSpec  proc.LaunchSpec
	// ServiceMatcher and WorkerMatcher classify the respective output
	// streams; nil means the default rule tables.
	ServiceMatcher *sentinel.Matcher
	WorkerMatcher  *sentinel.Matcher
	// Hook runs external cleanup after every attempt; nil disables it.
	Hook *cleanup.Hook
	// Bus receives log and status events; nil disables publishing.
	Bus *event.Bus
	Log *logging.Logger
	// SuccessExitCode is the worker exit code meaning success when no
	// outcome sentinel was observed.
	SuccessExitCode int
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Launcher == nil {
		opts.Launcher = DefaultLauncher
	}
	if opts.ServiceMatcher == nil {
		opts.ServiceMatcher = sentinel.NewMatcher(sentinel.DefaultServiceRules)
	}
	if opts.WorkerMatcher == nil {
		opts.WorkerMatcher = sentinel.NewMatcher(sentinel.DefaultWorkerRules)
	}
	if opts.Hook == nil {
		opts.Hook = cleanup.NewHook(nil, nil, opts.Log)
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	if opts.Log == nil {
		opts.Log = logging.NopLogger()
	}
	return &Supervisor{
		launcher:        opts.Launcher,
		serviceSpec:     opts.ServiceSpec,
		workerSpec:      opts.WorkerSpec,
		serviceMatcher:  opts.ServiceMatcher,
		workerMatcher:   opts.WorkerMatcher,
		hook:            opts.Hook,
		bus:             opts.Bus,
		log:             opts.Log,
		successExitCode: opts.SuccessExitCode,
	}
}

// Run executes one task attempt: ensure the service is up, launch the
// worker, and resolve the attempt by whichever comes first of an outcome
// sentinel, worker exit, service loss, or cancellation. The worker process
// tree is killed on every path, the service is torn down only when the
// session state requests a full cleanup, and the cleanup hook runs after
// every attempt. A non-nil error is environment-level and ends the run;
// all other failures come back as Result with OutcomeFailure.
func (s *Supervisor) Run(ctx context.Context, taskID string, st SessionState) (Result, error) {
	defer s.finishAttempt(ctx, st)

	if err := s.ensureService(ctx, st); err != nil {
		if apperrors.IsEnvironment(err) {
			return Result{}, err
		}
		if ctx.Err() != nil {
			st.MarkFullCleanup()
			return Result{Outcome: OutcomeCancelled, Reason: "cancelled while starting service"}, nil
		}
		s.log.Warn("service unavailable for attempt", "task", taskID, "error", err)
		return Result{Outcome: OutcomeFailure, Reason: err.Error()}, nil
	}

	sigCh := make(chan sentinel.Signal, 1)
	var sigOnce sync.Once
	onLine := func(l proc.Line) {
		s.publishLine(event.SourceWorker, l.Text)
		if sig, ok := s.workerMatcher.Classify(l.Text); ok {
			if sig == sentinel.SignalTaskSuccess || sig == sentinel.SignalTaskFailure {
				sigOnce.Do(func() { sigCh <- sig })
			}
		}
	}

	worker, err := s.launcher.Launch(s.workerSpec, onLine)
	if err != nil {
		if apperrors.IsEnvironment(err) {
			return Result{}, err
		}
		s.log.Warn("worker launch failed", "task", taskID, "error", err)
		return Result{Outcome: OutcomeFailure, Reason: err.Error()}, nil
	}
	// The worker process tree must not outlive the attempt, whichever way
	// it resolves.
	defer worker.Kill()

	s.log.Info("worker started", "task", taskID, "pid", worker.Pid())

	svc := s.service
	select {
	case sig := <-sigCh:
		if sig == sentinel.SignalTaskSuccess {
			return Result{Outcome: OutcomeSuccess, Reason: "worker reported completion"}, nil
		}
		return Result{Outcome: OutcomeFailure, Reason: "worker reported failure"}, nil

	case <-worker.Done():
		code := worker.ExitCode()
		// An outcome line may have raced the exit; prefer it.
		select {
		case sig := <-sigCh:
			if sig == sentinel.SignalTaskSuccess {
				return Result{Outcome: OutcomeSuccess, Reason: "worker reported completion"}, nil
			}
			return Result{Outcome: OutcomeFailure, Reason: "worker reported failure"}, nil
		default:
		}
		if code == s.successExitCode {
			return Result{Outcome: OutcomeSuccess, Reason: fmt.Sprintf("worker exited with code %d", code)}, nil
		}
		return Result{Outcome: OutcomeFailure, Reason: fmt.Sprintf("worker exited with code %d", code)}, nil

	case <-svc.down:
		st.MarkFullCleanup()
		return Result{Outcome: OutcomeFailure, Reason: "service went down mid-attempt"}, nil

	case <-svc.handle.Done():
		svc.markDown()
		st.MarkFullCleanup()
		return Result{Outcome: OutcomeFailure, Reason: "service exited mid-attempt"}, nil

	case <-ctx.Done():
		st.MarkFullCleanup()
		return Result{Outcome: OutcomeCancelled, Reason: "attempt cancelled"}, nil
	}
}

// FullCleanup tears down the service unconditionally and runs the full
// cleanup hook. Used when a session drains.
func (s *Supervisor) FullCleanup(ctx context.Context) {
	s.teardownService()
	s.hook.Run(context.WithoutCancel(ctx), true)
}

// ServiceAlive reports whether a service process is currently running.
func (s *Supervisor) ServiceAlive() bool {
	return s.service != nil && s.service.handle.Alive()
}

// finishAttempt runs after every attempt: service teardown if the session
// asked for it, then the cleanup hook. Cleanup runs even when ctx is
// already cancelled.
func (s *Supervisor) finishAttempt(ctx context.Context, st SessionState) {
	full := st.FullCleanupNeeded()
	if full {
		s.teardownService()
	}
	s.hook.Run(context.WithoutCancel(ctx), full)
}

func (s *Supervisor) teardownService() {
	if s.service == nil {
		return
	}
	s.log.Info("tearing down service", "pid", s.service.handle.Pid())
	s.service.handle.Kill()
	s.service = nil
}

// ensureService makes sure a ready service process exists, reusing the one
// from the previous attempt when it is still alive. Any form of service
// loss here, a down signal, an exit before readiness, or a quietly dead
// reused handle, marks the session for full cleanup so the service-scope
// cleanup commands run after this attempt.
func (s *Supervisor) ensureService(ctx context.Context, st SessionState) error {
	if s.service != nil {
		select {
		case <-s.service.down:
			st.MarkFullCleanup()
			s.teardownService()
		default:
			if s.service.handle.Alive() {
				return nil
			}
			st.MarkFullCleanup()
			s.teardownService()
		}
	}

	svc := &serviceState{
		ready: make(chan struct{}),
		down:  make(chan struct{}),
	}
	onLine := func(l proc.Line) {
		s.publishLine(event.SourceService, l.Text)
		sig, ok := s.serviceMatcher.Classify(l.Text)
		if !ok {
			return
		}
		switch sig {
		case sentinel.SignalServiceReady:
			svc.markReady()
		case sentinel.SignalServiceDown:
			svc.markDown()
		}
	}

	handle, err := s.launcher.Launch(s.serviceSpec, onLine)
	if err != nil {
		if apperrors.IsEnvironment(err) {
			return err
		}
		return fmt.Errorf("%w: %w", apperrors.ErrServiceNotReady, err)
	}
	svc.handle = handle
	s.log.Info("service started", "pid", handle.Pid())

	select {
	case <-svc.ready:
		s.service = svc
		s.bus.Publish(event.NewStatusEvent("service ready"))
		return nil
	case <-svc.down:
		handle.Kill()
		st.MarkFullCleanup()
		return fmt.Errorf("%w: service reported down during startup", apperrors.ErrServiceNotReady)
	case <-handle.Done():
		st.MarkFullCleanup()
		return fmt.Errorf("%w: service exited with code %d before readiness", apperrors.ErrServiceNotReady, handle.ExitCode())
	case <-ctx.Done():
		handle.Kill()
		return ctx.Err()
	}
}

func (s *Supervisor) publishLine(source event.Source, text string) {
	s.bus.Publish(event.NewLogEvent(source, sentinel.ClassifySeverity(text), text))
}
