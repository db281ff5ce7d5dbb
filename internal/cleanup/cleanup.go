// Package cleanup runs the external hygiene commands that keep the
// workspace sane between attempts: killing stray worker processes after
// every attempt and tearing down service-side state when a session needs a
// full reset. Cleanup is advisory: failures are logged and swallowed, never
// allowed to fail the attempt that triggered them.
package cleanup

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"artistbatch/internal/logging"
)

// commandTimeout bounds a single cleanup command. A hung cleanup must not
// wedge the session loop.
const commandTimeout = 30 * time.Second

// Hook runs configured cleanup command lines. Each command line is split on
// whitespace; the first field is the executable.
type Hook struct {
	workerCmds  []string
	serviceCmds []string
	log         *logging.Logger
}

// NewHook builds a Hook from the two command lists. A nil or empty list
// means nothing to run at that level.
func NewHook(workerCmds, serviceCmds []string, log *logging.Logger) *Hook {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Hook{
		workerCmds:  workerCmds,
		serviceCmds: serviceCmds,
		log:         log,
	}
}

// Run executes the worker cleanup commands, and additionally the service
// cleanup commands when full is true. Every command runs even if earlier
// ones fail; failures are logged and never returned.
func (h *Hook) Run(ctx context.Context, full bool) {
	for _, cmdline := range h.workerCmds {
		h.runOne(ctx, cmdline)
	}
	if full {
		for _, cmdline := range h.serviceCmds {
			h.runOne(ctx, cmdline)
		}
	}
}

func (h *Hook) runOne(ctx context.Context, cmdline string) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, fields[0], fields[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		h.log.Warn("cleanup command failed",
			"command", cmdline,
			"error", err,
			"output", strings.TrimSpace(string(out)))
		return
	}
	h.log.Debug("cleanup command succeeded", "command", cmdline)
}
