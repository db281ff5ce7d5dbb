package sentinel

import "testing"

func TestClassifyServiceRules(t *testing.T) {
	m := NewMatcher(DefaultServiceRules)

	tests := []struct {
		name       string
		line       string
		wantSignal Signal
		wantMatch  bool
	}{
		{
			name:       "explicit wrapper down",
			line:       "Wrapper down, restarting soon",
			wantSignal: SignalServiceDown,
			wantMatch:  true,
		},
		{
			name:       "generic down",
			line:       "service is DOWN",
			wantSignal: SignalServiceDown,
			wantMatch:  true,
		},
		{
			name:       "listening",
			line:       "Listening on 127.0.0.1:10020",
			wantSignal: SignalServiceReady,
			wantMatch:  true,
		},
		{
			name:       "ready",
			line:       "wrapper READY to serve",
			wantSignal: SignalServiceReady,
			wantMatch:  true,
		},
		{
			name:       "down wins over ready when both present",
			line:       "ready check failed: wrapper down",
			wantSignal: SignalServiceDown,
			wantMatch:  true,
		},
		{
			name:       "plain chatter",
			line:       "loaded 42 plugins",
			wantSignal: SignalNone,
			wantMatch:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Classify(tt.line)
			if got != tt.wantSignal || ok != tt.wantMatch {
				t.Errorf("Classify(%q) = (%v, %v), want (%v, %v)",
					tt.line, got, ok, tt.wantSignal, tt.wantMatch)
			}
		})
	}
}

func TestClassifyWorkerRules(t *testing.T) {
	m := NewMatcher(DefaultWorkerRules)

	tests := []struct {
		name       string
		line       string
		wantSignal Signal
		wantMatch  bool
	}{
		{
			name:       "completion sentence",
			line:       "All tasks completed.",
			wantSignal: SignalTaskSuccess,
			wantMatch:  true,
		},
		{
			name:       "critical error",
			line:       "CRITICAL ERROR: cannot reach wrapper",
			wantSignal: SignalTaskFailure,
			wantMatch:  true,
		},
		{
			name:       "fatal",
			line:       "FATAL: disk full",
			wantSignal: SignalTaskFailure,
			wantMatch:  true,
		},
		{
			name:       "progress chatter",
			line:       "downloading track 3 of 12",
			wantSignal: SignalNone,
			wantMatch:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Classify(tt.line)
			if got != tt.wantSignal || ok != tt.wantMatch {
				t.Errorf("Classify(%q) = (%v, %v), want (%v, %v)",
					tt.line, got, ok, tt.wantSignal, tt.wantMatch)
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	m := NewMatcher([]Rule{
		{Substring: "alpha", Signal: SignalTaskSuccess},
		{Substring: "alpha beta", Signal: SignalTaskFailure},
	})

	got, ok := m.Classify("alpha beta")
	if !ok || got != SignalTaskSuccess {
		t.Errorf("Classify() = (%v, %v), want first rule to win (%v, true)",
			got, ok, SignalTaskSuccess)
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		line string
		want Severity
	}{
		{"FATAL: disk full", SeverityError},
		{"ERROR opening socket", SeverityError},
		{"CRITICAL ERROR: wrapper gone", SeverityError},
		{"WARNING: slow response", SeverityWarning},
		{"warn: retrying", SeverityWarning},
		{"DEBUG dumping state", SeverityDebug},
		{"INFO started", SeverityInfo},
		{"All tasks completed.", SeverityOther},
		{"downloading track 3 of 12", SeverityOther},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := ClassifySeverity(tt.line); got != tt.want {
				t.Errorf("ClassifySeverity(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestSignalString(t *testing.T) {
	tests := []struct {
		signal Signal
		want   string
	}{
		{SignalNone, "none"},
		{SignalServiceReady, "service_ready"},
		{SignalServiceDown, "service_down"},
		{SignalTaskSuccess, "task_success"},
		{SignalTaskFailure, "task_failure"},
	}

	for _, tt := range tests {
		if got := tt.signal.String(); got != tt.want {
			t.Errorf("Signal(%d).String() = %q, want %q", tt.signal, got, tt.want)
		}
	}
}
