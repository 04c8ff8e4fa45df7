package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/gaugelab/speedboard/data"
	"github.com/gaugelab/speedboard/engine"
	"github.com/gaugelab/speedboard/history"
	"github.com/gaugelab/speedboard/probe"
)

var testServer = probe.ServerInfo{
	ID:    "mlab1-abc0",
	Label: "mlab1-abc0 (Zurich, CH)",
	Host:  "127.0.0.1:443",
}

// fakeProvider scripts each phase so tests can drive the controller
// through every outcome without a network.
type fakeProvider struct {
	server          probe.ServerInfo
	rtt             time.Duration
	downMbps        float64
	downErr         error
	downRates       []float64
	upMbps          float64
	blockDownload   bool
	downloadEntered chan struct{}
	afterProgress   func()
}

func (f *fakeProvider) SelectServer(ctx context.Context) (probe.ServerInfo, error) {
	if err := ctx.Err(); err != nil {
		return probe.ServerInfo{}, err
	}
	return f.server, nil
}

func (f *fakeProvider) Ping(ctx context.Context, srv probe.ServerInfo) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.rtt, nil
}

func (f *fakeProvider) Download(ctx context.Context, srv probe.ServerInfo, onProgress func(float64)) (float64, error) {
	if f.downloadEntered != nil {
		close(f.downloadEntered)
	}
	if f.blockDownload {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.downErr != nil {
		return 0, f.downErr
	}
	for _, r := range f.downRates {
		if onProgress != nil {
			onProgress(r)
		}
		if f.afterProgress != nil {
			f.afterProgress()
		}
	}
	return f.downMbps, nil
}

func (f *fakeProvider) Upload(ctx context.Context, srv probe.ServerInfo, onProgress func(float64)) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.upMbps, nil
}

func goodProvider() *fakeProvider {
	return &fakeProvider{
		server:   testServer,
		rtt:      14 * time.Millisecond,
		downMbps: 941.2,
		upMbps:   88.4,
	}
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	return history.New(filepath.Join(t.TempDir(), "history.json"))
}

func TestStartIgnoredWhileRunning(t *testing.T) {
	f := &fakeProvider{server: testServer, rtt: time.Millisecond, blockDownload: true}
	c := New(Options{Provider: f, History: newTestStore(t)})

	c.startRun()
	if c.state != StateRunning {
		t.Fatalf("state = %v, want running", c.state)
	}
	first := c.eng
	c.startRun()
	if c.eng != first {
		t.Error("start while running replaced the engine")
	}
	c.stopRun()
	if c.state != StateStopping {
		t.Fatalf("state = %v, want stopping", c.state)
	}
	c.startRun()
	if c.eng != first {
		t.Error("start while stopping replaced the engine")
	}
	c.finishRun(<-c.outcomes)
}

func TestCancelledRunLeavesHistoryUntouched(t *testing.T) {
	store := newTestStore(t)
	f := &fakeProvider{server: testServer, rtt: time.Millisecond, blockDownload: true}
	c := New(Options{Provider: f, History: store})

	c.startRun()
	c.stopRun()
	c.finishRun(<-c.outcomes)

	if c.state != StateIdle {
		t.Errorf("state after cancelled outcome = %v, want idle", c.state)
	}
	if c.status != "CANCELLED" {
		t.Errorf("status = %q, want CANCELLED", c.status)
	}
	if got := store.Snapshot(); len(got) != 0 {
		t.Errorf("cancelled run reached history: %+v", got)
	}
	if s, ok := c.eng.Latest(); !ok || s.Phase != engine.Cancelled {
		t.Errorf("final sample = %+v, want Cancelled", s)
	}
}

func TestCompletedRunAppendsHistory(t *testing.T) {
	store := newTestStore(t)
	c := New(Options{Provider: goodProvider(), History: store})

	c.startRun()
	c.finishRun(<-c.outcomes)

	if c.state != StateCompleted {
		t.Fatalf("state = %v, want completed", c.state)
	}
	if c.status != "COMPLETE" {
		t.Errorf("status = %q, want COMPLETE", c.status)
	}
	entries := store.Snapshot()
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	head := entries[0]
	if head.Ordinal != 0 || head.ServerID != testServer.ID {
		t.Errorf("head entry = %+v", head)
	}
	if head.PingMs != 14 || head.DownloadMbps != 941.2 || head.UploadMbps != 88.4 {
		t.Errorf("head entry measurements = %+v", head)
	}
	if head.CompletedAt.IsZero() {
		t.Error("head entry has no completion time")
	}

	c.tick(time.Now())
	if c.state != StateIdle {
		t.Errorf("state after tick = %v, want idle", c.state)
	}
	if c.lastResult == nil || c.lastResult.DownloadMbps != 941.2 {
		t.Errorf("lastResult = %+v", c.lastResult)
	}
}

func TestFailedRunAcknowledgedByAnyKey(t *testing.T) {
	f := &fakeProvider{
		server:  testServer,
		rtt:     time.Millisecond,
		downErr: &probe.Error{Kind: probe.NetworkFailure, Op: "download", Err: errors.New("connection reset")},
	}
	store := newTestStore(t)
	c := New(Options{Provider: f, History: store})

	c.startRun()
	c.finishRun(<-c.outcomes)

	if c.state != StateFailed {
		t.Fatalf("state = %v, want failed", c.state)
	}
	if c.lastErr == nil {
		t.Fatal("failed run must record its error")
	}
	if got := store.Snapshot(); len(got) != 0 {
		t.Errorf("failed run reached history: %+v", got)
	}

	c.handle(CmdStop) // any key acknowledges
	if c.state != StateIdle {
		t.Errorf("state after ack = %v, want idle", c.state)
	}
	if c.lastErr != nil {
		t.Errorf("error survived the ack: %v", c.lastErr)
	}
}

func TestHistoryPersistFailureAlerts(t *testing.T) {
	store := history.New(filepath.Join(t.TempDir(), "missing", "history.json"))
	c := New(Options{Provider: goodProvider(), History: store})

	c.startRun()
	c.finishRun(<-c.outcomes)

	if c.state != StateCompleted {
		t.Errorf("persist failure changed the run state: %v", c.state)
	}
	if c.alert != "history save failed" {
		t.Errorf("alert = %q, want history save failed", c.alert)
	}
	if entries := store.Snapshot(); len(entries) != 1 {
		t.Errorf("in-memory history lost the result: %+v", entries)
	}
}

func TestCopySummary(t *testing.T) {
	var copied string
	c := New(Options{
		Provider:  goodProvider(),
		Clipboard: func(s string) error { copied = s; return nil },
	})
	c.lastResult = &data.TestResult{PingMs: 14, DownloadMbps: 941.2, UploadMbps: 88.4}

	c.copyResult()

	want := "Ping: 14 ms | Down: 941.20 Mbps | Up: 88.40 Mbps"
	if copied != want {
		t.Errorf("copied %q, want %q", copied, want)
	}
	if c.alert != "summary copied" {
		t.Errorf("alert = %q, want summary copied", c.alert)
	}
}

func TestCopyFailureAlerts(t *testing.T) {
	c := New(Options{
		Provider:  goodProvider(),
		Clipboard: func(string) error { return errors.New("no clipboard") },
	})
	c.lastResult = &data.TestResult{PingMs: 1, DownloadMbps: 2, UploadMbps: 3}
	c.state = StateIdle

	c.copyResult()

	if c.alert != "copy failed" {
		t.Errorf("alert = %q, want copy failed", c.alert)
	}
	if c.state != StateIdle {
		t.Errorf("clipboard failure changed the run state: %v", c.state)
	}
}

func TestCopyWithoutResult(t *testing.T) {
	c := New(Options{Provider: goodProvider(), Clipboard: func(string) error { return nil }})
	c.copyResult()
	if c.alert != "no result to copy" {
		t.Errorf("alert = %q, want no result to copy", c.alert)
	}
}

func TestExportWritesFile(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{Provider: goodProvider(), ExportDir: dir})
	c.lastResult = &data.TestResult{
		ServerID:     testServer.ID,
		ServerLabel:  testServer.Label,
		PingMs:       14,
		DownloadMbps: 941.2,
		UploadMbps:   88.4,
		StartedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		CompletedAt:  time.Date(2024, 5, 1, 10, 0, 21, 0, time.UTC),
	}

	c.exportResult()

	if !strings.HasPrefix(c.alert, "exported ") {
		t.Fatalf("alert = %q, want exported <file>", c.alert)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "speedboard-result-*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("export files = %v (err %v), want exactly one", matches, err)
	}
	raw, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	var got data.TestResult
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("exported file is not valid JSON: %v", err)
	}
	if got.DownloadMbps != 941.2 || got.ServerID != testServer.ID {
		t.Errorf("exported result = %+v", got)
	}
}

func TestExportWithoutResult(t *testing.T) {
	c := New(Options{Provider: goodProvider()})
	c.exportResult()
	if c.alert != "no result to export" {
		t.Errorf("alert = %q, want no result to export", c.alert)
	}
}

func TestObserveFoldsProgressSamples(t *testing.T) {
	f := &fakeProvider{
		server:    testServer,
		rtt:       time.Millisecond,
		downRates: []float64{12.1, 15.4, 13.9},
		downMbps:  13.9,
		upMbps:    2,
	}
	c := New(Options{Provider: f})
	c.eng = engine.New(f)
	c.state = StateRunning
	f.afterProgress = func() { c.observe() }

	if _, err := c.eng.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []float64{12.1, 15.4, 13.9}
	if len(c.analyzer) != len(want) {
		t.Fatalf("analyzer = %v, want %v", c.analyzer, want)
	}
	for i := range want {
		if c.analyzer[i] != want[i] {
			t.Fatalf("analyzer = %v, want %v", c.analyzer, want)
		}
	}
	if c.lastSample.Value != 13.9 {
		t.Errorf("last observed sample = %+v, want value 13.9", c.lastSample)
	}
	frame := Render(c.renderState())
	if !strings.Contains(frame, "13.90 Mbps") {
		t.Errorf("frame does not show the latest rate:\n%s", frame)
	}
}

func TestAnalyzerWindowIsBounded(t *testing.T) {
	c := New(Options{Provider: goodProvider(), AnalyzerCapacity: 3})
	rates := []float64{1, 2, 3, 4, 5}
	f := &fakeProvider{server: testServer, rtt: time.Millisecond, downRates: rates, downMbps: 5, upMbps: 1}
	c.eng = engine.New(f)
	f.afterProgress = func() { c.observe() }

	if _, err := c.eng.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []float64{3, 4, 5}
	if len(c.analyzer) != len(want) {
		t.Fatalf("analyzer = %v, want %v", c.analyzer, want)
	}
	for i := range want {
		if c.analyzer[i] != want[i] {
			t.Fatalf("analyzer = %v, want %v", c.analyzer, want)
		}
	}
}

func TestTickRedrawIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	c := New(Options{Provider: goodProvider(), Out: &out})

	c.startRun()
	c.finishRun(<-c.outcomes)
	c.tick(time.Now())
	out.Reset()

	// Two ticks with no new sample must paint identical frames.
	c.tick(time.Now())
	first := out.String()
	out.Reset()
	c.tick(time.Now())
	second := out.String()
	if first != second {
		t.Error("redraw with no new sample changed the frame")
	}
}

func TestAlertExpires(t *testing.T) {
	c := New(Options{Provider: goodProvider()})
	c.setAlert("summary copied")
	c.tick(time.Now())
	if c.alert == "" {
		t.Fatal("alert expired immediately")
	}
	c.tick(time.Now().Add(alertTTL + time.Second))
	if c.alert != "" {
		t.Errorf("alert = %q after TTL, want empty", c.alert)
	}
}

func TestRunLoopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	store := newTestStore(t)
	var out bytes.Buffer
	c := New(Options{
		Provider:  goodProvider(),
		History:   store,
		Out:       &out,
		Clipboard: func(string) error { return nil },
	})
	keys := make(chan Command)
	errc := make(chan error)
	go func() { errc <- c.Run(context.Background(), keys) }()

	keys <- CmdStart
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(store.Snapshot()) == 0 {
		c.OnTick(time.Now())
		time.Sleep(time.Millisecond)
	}
	if len(store.Snapshot()) != 1 {
		t.Fatal("run never completed")
	}

	keys <- CmdQuit
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if !strings.Contains(out.String(), "SPEEDBOARD") {
		t.Error("nothing was rendered")
	}
}

func TestQuitCancelsInFlightRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	entered := make(chan struct{})
	f := &fakeProvider{
		server:          testServer,
		rtt:             time.Millisecond,
		blockDownload:   true,
		downloadEntered: entered,
	}
	c := New(Options{Provider: f})
	keys := make(chan Command)
	errc := make(chan error)
	go func() { errc <- c.Run(context.Background(), keys) }()

	keys <- CmdStart
	<-entered
	keys <- CmdQuit
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRunLoopStopsWhenKeysClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := New(Options{Provider: goodProvider()})
	keys := make(chan Command)
	errc := make(chan error)
	go func() { errc <- c.Run(context.Background(), keys) }()
	close(keys)
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRunLoopHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Options{Provider: goodProvider()})
	keys := make(chan Command)
	errc := make(chan error)
	go func() { errc <- c.Run(ctx, keys) }()
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
