// Package proc owns one external process: launch with redirected output,
// per-line delivery to a callback, forced kill of the whole process tree,
// and exit detection. The processes it runs are opaque command-line
// programs; the only things observed are their output text and exit codes.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	apperrors "artistbatch/internal/errors"
)

// maxLineSize bounds a single output line. Workers occasionally dump long
// progress lines; 1 MiB is far beyond anything seen in practice.
const maxLineSize = 1024 * 1024

// lineBuffer is the hand-off capacity between the pipe readers and the
// delivery goroutine. A slow callback only backpressures the child's
// output once this many lines are waiting.
const lineBuffer = 256

// Stream identifies which output stream a line arrived on.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line is one completed output line tagged with its stream origin.
type Line struct {
	Stream Stream
	Text   string
}

// LineFunc receives output lines. It is invoked on a single dedicated
// delivery goroutine, decoupled from the pipe readers by a buffered
// hand-off, so a briefly slow callback does not stall the child's output.
// Lines from one stream arrive in emission order, one at a time.
type LineFunc func(Line)

// LaunchSpec describes how to start an external process.
type LaunchSpec struct {
	// Path is the executable or interpreter to run.
	Path string
	// Args are passed verbatim.
	Args []string
	// Dir is the working directory; empty means inherit.
	Dir string
}

// Handle owns a started process. All methods are safe for concurrent use.
type Handle struct {
	cmd      *exec.Cmd
	done     chan struct{}
	killOnce sync.Once

	mu       sync.Mutex
	exitCode int
}

// Launch starts the process described by spec with stdout and stderr
// redirected. Each completed output line is passed to onLine. A nil onLine
// discards output. Launch fails with a LaunchError (wrapping
// errors.ErrLaunchFailed) if the executable is missing or the OS refuses
// to start it.
func Launch(spec LaunchSpec, onLine LineFunc) (*Handle, error) {
	if spec.Path == "" {
		return nil, apperrors.NewLaunchError("", fmt.Errorf("empty executable path"))
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if apperrors.IsResourceExhaustion(err) {
			return nil, fmt.Errorf("start %s: %w", spec.Path, err)
		}
		return nil, apperrors.NewLaunchError(spec.Path, err)
	}

	h := &Handle{
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	var lines chan Line
	var delivered chan struct{}
	if onLine != nil {
		lines = make(chan Line, lineBuffer)
		delivered = make(chan struct{})
		go func() {
			for l := range lines {
				onLine(l)
			}
			close(delivered)
		}()
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go h.scanStream(&readers, StreamStdout, stdout, lines)
	go h.scanStream(&readers, StreamStderr, stderr, lines)

	// Reap the process only after both pipes are drained and every line is
	// delivered; Wait closes the pipes.
	go func() {
		readers.Wait()
		if lines != nil {
			close(lines)
			<-delivered
		}
		err := cmd.Wait()

		code := 0
		if err != nil {
			code = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}

		h.mu.Lock()
		h.exitCode = code
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// scanStream reads one output stream line by line and hands each line to
// the delivery goroutine. A nil channel discards output.
func (h *Handle) scanStream(wg *sync.WaitGroup, stream Stream, r io.Reader, lines chan<- Line) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if lines != nil {
			lines <- Line{Stream: stream, Text: scanner.Text()}
		}
	}
	// Scanner errors here mean the pipe closed mid-line (kill or exit);
	// any final partial line is dropped with it.
}

// Done returns a channel closed when the process has exited and both
// output streams are drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the process exit code. Valid only after Done is closed;
// -1 means the process was killed by a signal or never exited normally.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Wait suspends the caller until the process exits or ctx fires, whichever
// comes first. It returns the exit code on exit and ctx.Err() on
// cancellation. Wait never kills the process; that decision stays with the
// caller.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.ExitCode(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Kill terminates the process and its entire descendant tree. It is
// idempotent: killing an already-exited process is a no-op, not an error,
// so it is safe to call from any cleanup path (cancellation, timeout, or
// normal completion). Kill does not wait for exit; use Wait for that.
func (h *Handle) Kill() {
	h.killOnce.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		killTree(h.cmd.Process.Pid)
	})
}

// Pid returns the OS process id, or 0 if the process never started.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
