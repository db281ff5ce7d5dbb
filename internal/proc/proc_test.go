//go:build unix

package proc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "artistbatch/internal/errors"
)

// lineCollector gathers delivered lines for assertions.
type lineCollector struct {
	mu    sync.Mutex
	lines []Line
}

func (c *lineCollector) add(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *lineCollector) byStream(s Stream) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, l := range c.lines {
		if l.Stream == s {
			out = append(out, l.Text)
		}
	}
	return out
}

func shSpec(script string) LaunchSpec {
	return LaunchSpec{Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestLaunchMissingExecutable(t *testing.T) {
	_, err := Launch(LaunchSpec{Path: "/nonexistent/worker.sh"}, nil)
	if err == nil {
		t.Fatal("Launch() succeeded for a missing executable")
	}
	if !apperrors.Is(err, apperrors.ErrLaunchFailed) {
		t.Errorf("error %v does not wrap ErrLaunchFailed", err)
	}
}

func TestLinesDeliveredInOrderWithStreamTags(t *testing.T) {
	collector := &lineCollector{}
	h, err := Launch(shSpec("echo one; echo two; echo err1 1>&2; echo three"), collector.add)
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	stdout := collector.byStream(StreamStdout)
	want := []string{"one", "two", "three"}
	if len(stdout) != len(want) {
		t.Fatalf("stdout lines = %v, want %v", stdout, want)
	}
	for i := range want {
		if stdout[i] != want[i] {
			t.Errorf("stdout[%d] = %q, want %q", i, stdout[i], want[i])
		}
	}

	stderr := collector.byStream(StreamStderr)
	if len(stderr) != 1 || stderr[0] != "err1" {
		t.Errorf("stderr lines = %v, want [err1]", stderr)
	}
}

func TestExitCodePropagated(t *testing.T) {
	h, err := Launch(shSpec("exit 3"), nil)
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if h.Alive() {
		t.Error("Alive() = true after exit")
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	h, err := Launch(shSpec("sleep 30"), nil)
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	defer h.Kill()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = h.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
	// Wait must not kill the process; that decision stays with the caller.
	if !h.Alive() {
		t.Error("process exited after cancelled Wait; Wait must not kill")
	}
}

func TestKillTerminatesAndIsIdempotent(t *testing.T) {
	h, err := Launch(shSpec("sleep 30"), nil)
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	h.Kill()
	h.Kill() // second call must be a no-op

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() after Kill() error: %v", err)
	}
	if code != -1 {
		t.Errorf("exit code after SIGKILL = %d, want -1", code)
	}
}

func TestKillTerminatesDescendants(t *testing.T) {
	// The shell spawns a child sleep; killing the handle must take the
	// whole group down, otherwise Done() would block on the open pipe.
	h, err := Launch(shSpec("sleep 30 & wait"), nil)
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond) // let the child spawn
	h.Kill()

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Done() not closed after kill-tree; descendant likely survived")
	}
}

func TestSlowConsumerStillReceivesEveryLine(t *testing.T) {
	const n = 50
	var script strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&script, "echo line%d; ", i)
	}

	collector := &lineCollector{}
	h, err := Launch(shSpec(script.String()), func(l Line) {
		time.Sleep(time.Millisecond) // slower than the child emits
		collector.add(l)
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("Done() not closed with a slow consumer")
	}

	got := collector.byStream(StreamStdout)
	if len(got) != n {
		t.Fatalf("delivered %d lines, want %d", len(got), n)
	}
	for i := 0; i < n; i++ {
		if want := fmt.Sprintf("line%d", i); got[i] != want {
			t.Errorf("line[%d] = %q, want %q", i, got[i], want)
		}
	}
}

func TestDoneClosedAfterStreamsDrained(t *testing.T) {
	collector := &lineCollector{}
	h, err := Launch(shSpec("echo last"), collector.add)
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Done() not closed")
	}

	// Every line emitted before exit must already be delivered.
	if got := collector.byStream(StreamStdout); len(got) != 1 || got[0] != "last" {
		t.Errorf("stdout after Done = %v, want [last]", got)
	}
}
