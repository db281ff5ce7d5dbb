// Package sentinel classifies raw process output lines into control signals.
// The service and worker processes are opaque: the only protocol they speak
// is free-form log text, so classification is a case-insensitive substring
// search against a small ordered rule table. First match wins; a line that
// matches nothing carries no signal but is still forwarded to observers.
package sentinel

import "strings"

// Signal represents a control signal extracted from an output line.
type Signal int

const (
	// SignalNone means the line carries no control signal.
	SignalNone Signal = iota

	// SignalServiceReady means the service process has finished starting
	// and is able to accept work.
	SignalServiceReady

	// SignalServiceDown means the service process reported itself as down.
	// The supervisor treats this the same as a service crash.
	SignalServiceDown

	// SignalTaskSuccess means the worker reported the current task as done.
	SignalTaskSuccess

	// SignalTaskFailure means the worker reported an unrecoverable error
	// for the current task.
	SignalTaskFailure
)

// String returns a human-readable name for the signal.
func (s Signal) String() string {
	switch s {
	case SignalServiceReady:
		return "service_ready"
	case SignalServiceDown:
		return "service_down"
	case SignalTaskSuccess:
		return "task_success"
	case SignalTaskFailure:
		return "task_failure"
	default:
		return "none"
	}
}

// Severity is a metadata tag derived from a line's log-level keywords.
// It is informational only and never drives control flow.
type Severity int

const (
	SeverityOther Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
)

// String returns a human-readable name for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "OTHER"
	}
}

// Rule maps a substring to the signal it announces. Matching is
// case-insensitive; rules are evaluated in table order.
type Rule struct {
	Substring string
	Signal    Signal
}

// DefaultServiceRules classify output of the long-lived service process.
// The "down" rules precede the readiness rules so that a shutdown notice
// containing both keywords resolves to down.
var DefaultServiceRules = []Rule{
	{Substring: "wrapper down", Signal: SignalServiceDown},
	{Substring: "down", Signal: SignalServiceDown},
	{Substring: "listening on", Signal: SignalServiceReady},
	{Substring: "ready", Signal: SignalServiceReady},
}

// DefaultWorkerRules classify output of the per-task worker process.
var DefaultWorkerRules = []Rule{
	{Substring: "all tasks completed.", Signal: SignalTaskSuccess},
	{Substring: "critical error", Signal: SignalTaskFailure},
	{Substring: "fatal", Signal: SignalTaskFailure},
}

// severityRules tag lines with a log level. Evaluated in order, first
// match wins, independent of the signal rules.
var severityRules = []struct {
	substring string
	severity  Severity
}{
	{"error", SeverityError},
	{"fatal", SeverityError},
	{"critical", SeverityError},
	{"warning", SeverityWarning},
	{"warn", SeverityWarning},
	{"debug", SeverityDebug},
	{"info", SeverityInfo},
}

// Matcher classifies output lines against an ordered rule table.
// The rule table is data, not code, so deployments can replace it
// without touching the state machine that consumes the signals.
type Matcher struct {
	rules []Rule
}

// NewMatcher creates a Matcher over the given rules. The rules slice is
// copied; the zero-length table matches nothing.
func NewMatcher(rules []Rule) *Matcher {
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Matcher{rules: copied}
}

// Classify returns the first signal whose substring occurs in line.
// The second return is false when no rule matches.
func (m *Matcher) Classify(line string) (Signal, bool) {
	lowered := strings.ToLower(line)
	for _, rule := range m.rules {
		if strings.Contains(lowered, strings.ToLower(rule.Substring)) {
			return rule.Signal, true
		}
	}
	return SignalNone, false
}

// ClassifySeverity tags a line with a log level based on keyword search.
// Lines with no recognizable level keyword are tagged SeverityOther.
func ClassifySeverity(line string) Severity {
	lowered := strings.ToLower(line)
	for _, rule := range severityRules {
		if strings.Contains(lowered, rule.substring) {
			return rule.severity
		}
	}
	return SeverityOther
}
