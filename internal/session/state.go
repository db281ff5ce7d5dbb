// Package session drives the outer control loop: load the pending backlog,
// hand items to the supervisor one at a time, persist completions, enforce
// the unit budget, and restart with a fresh backlog whenever a session
// drains. One Controller.Run call is the whole batch run.
package session

// Phase is where the controller currently is in its loop.
type Phase int

const (
	PhaseLoadingBacklog Phase = iota
	PhaseProcessingItem
	PhaseDraining
	PhaseTerminal
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseLoadingBacklog:
		return "loading_backlog"
	case PhaseProcessingItem:
		return "processing_item"
	case PhaseDraining:
		return "draining"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// State is the mutable state of one session: one pass over a backlog
// snapshot. A fresh State is created whenever a session starts, so the
// counters and the cleanup flag never leak across restarts.
type State struct {
	unitsProcessed  int
	budgetCap       int
	needFullCleanup bool
}

// NewState creates session state with the given budget cap. A cap of zero
// disables the budget.
func NewState(budgetCap int) *State {
	return &State{budgetCap: budgetCap}
}

// AddUnits accumulates the metric contribution of a completed item.
func (s *State) AddUnits(n int) {
	s.unitsProcessed += n
}

// UnitsProcessed returns the cumulative unit count for this session.
func (s *State) UnitsProcessed() int {
	return s.unitsProcessed
}

// BudgetExceeded reports whether the cumulative units have passed the cap.
// The check is strict: reaching the cap exactly does not trip it.
func (s *State) BudgetExceeded() bool {
	return s.budgetCap > 0 && s.unitsProcessed > s.budgetCap
}

// MarkFullCleanup records that the next cleanup must also tear down the
// long-lived service.
func (s *State) MarkFullCleanup() {
	s.needFullCleanup = true
}

// FullCleanupNeeded reports whether a full cleanup was requested.
func (s *State) FullCleanupNeeded() bool {
	return s.needFullCleanup
}
