package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/m-lab/go/osx"
	"github.com/m-lab/go/prometheusx/promtest"
	"github.com/m-lab/go/rtx"

	"github.com/gaugelab/speedboard/logging"
)

// setupMain points main's inputs and outputs at test-owned pipes and
// files. It returns the write end of the fake stdin, which the test
// closes to let the key reader exit, and a cleanup function.
func setupMain(t *testing.T) (*os.File, func()) {
	cleanups := []func(){}
	dir := t.TempDir()

	// The dashboard reads keys from stdin and paints frames to stdout.
	// Both get pipes so the test terminal stays usable.
	stdinR, stdinW, err := os.Pipe()
	rtx.Must(err, "Could not create stdin pipe")
	oldStdin := os.Stdin
	os.Stdin = stdinR

	stdoutR, stdoutW, err := os.Pipe()
	rtx.Must(err, "Could not create stdout pipe")
	oldStdout := os.Stdout
	os.Stdout = stdoutW
	go io.Copy(io.Discard, stdoutR)

	for _, ev := range []struct{ key, value string }{
		{"HISTORY_FILE", filepath.Join(dir, "history.json")},
		{"LOG_FILE", filepath.Join(dir, "speedboard.log")},
		{"DASHBOARD_TICKS_PER_SECOND", "100"},
		{"LISTEN_DEBUG", "127.0.0.1:0"},
	} {
		cleanups = append(cleanups, osx.MustSetenv(ev.key, ev.value))
	}
	return stdinW, func() {
		os.Stdin = oldStdin
		os.Stdout = oldStdout
		stdoutW.Close()
		logging.SetOutput(os.Stderr)
		for _, f := range cleanups {
			f()
		}
	}
}

func Test_ContextCancelsMain(t *testing.T) {
	stdin, cleanup := setupMain(t)
	defer cleanup()

	// Set up the global context for main().
	ctx, cancel = context.WithCancel(context.Background())
	before := runtime.NumGoroutine()

	// Run main, but cancel it very soon after starting.
	go func() {
		time.Sleep(1 * time.Second)
		cancel()
	}()
	// If this doesn't run forever, then canceling the context causes main to exit.
	main()

	// Closing the fake stdin lets the key reader goroutine exit.
	stdin.Close()

	// A sleep has been added here to allow all completed goroutines to exit.
	time.Sleep(100 * time.Millisecond)

	// Make sure main() doesn't leak goroutines.
	after := runtime.NumGoroutine()
	if before != after {
		t.Errorf("After running NumGoroutines changed: %d to %d", before, after)
	}
}

func TestMetrics(t *testing.T) {
	promtest.LintMetrics(t)
}
