// Package dashboard contains the terminal dashboard: a single control loop
// that starts and stops measurement runs, observes their progress samples,
// and redraws the screen on scheduler ticks.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/gaugelab/speedboard/data"
	"github.com/gaugelab/speedboard/engine"
	"github.com/gaugelab/speedboard/history"
	"github.com/gaugelab/speedboard/logging"
	"github.com/gaugelab/speedboard/metrics"
	"github.com/gaugelab/speedboard/probe"
)

// RunState is the dashboard's view of the measurement lifecycle.
type RunState int

const (
	// StateIdle means no run is in flight.
	StateIdle RunState = iota
	// StateRunning means a run is in flight.
	StateRunning
	// StateStopping means the run was cancelled and the dashboard is
	// waiting for the engine goroutine to wind down.
	StateStopping
	// StateCompleted means the run just finished; the next tick returns
	// the dashboard to StateIdle.
	StateCompleted
	// StateFailed means the run failed; any key acknowledges the failure.
	StateFailed
)

// String returns the name used in logs.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// alertTTL is how long a transient alert stays on screen.
const alertTTL = 4 * time.Second

// Options configures a Controller. Provider is required; everything else
// has a usable default.
type Options struct {
	// Provider performs the measurements.
	Provider probe.Provider
	// History receives completed results. May be nil, in which case
	// nothing is persisted.
	History *history.Store
	// Out receives rendered frames. May be nil, in which case the
	// controller runs headless.
	Out io.Writer
	// Clipboard copies the result summary. Defaults to CopyToClipboard.
	Clipboard func(string) error
	// ExportDir is where exported results are written. Empty means the
	// current directory.
	ExportDir string
	// MaxGaugeMbps is the gauge's full-scale reading. Defaults to 1200.
	MaxGaugeMbps float64
	// AnalyzerCapacity bounds the sparkline window. Defaults to 50.
	AnalyzerCapacity int
}

// outcome is what the engine goroutine posts back when a run ends.
type outcome struct {
	result *data.TestResult
	err    error
}

// Controller owns every piece of dashboard state. All mutation happens on
// the Run goroutine; the engine only communicates through the outcome
// channel and its sample cell, so no field needs a lock.
type Controller struct {
	opts Options

	state      RunState
	status     string
	alert      string
	alertUntil time.Time

	eng       *engine.Engine
	runCancel context.CancelFunc
	outcomes  chan outcome
	ticks     chan time.Time

	lastResult *data.TestResult
	lastErr    error
	lastSample engine.Sample
	haveSample bool
	analyzer   []float64
	entries    []history.Entry

	quit bool
}

// New creates a controller. The history's current snapshot seeds the
// history panel.
func New(opts Options) *Controller {
	if opts.Clipboard == nil {
		opts.Clipboard = CopyToClipboard
	}
	if opts.MaxGaugeMbps <= 0 {
		opts.MaxGaugeMbps = 1200
	}
	if opts.AnalyzerCapacity <= 0 {
		opts.AnalyzerCapacity = 50
	}
	c := &Controller{
		opts:     opts,
		status:   "READY",
		outcomes: make(chan outcome, 1),
		ticks:    make(chan time.Time, 1),
	}
	if opts.History != nil {
		c.entries = opts.History.Snapshot()
	}
	return c
}

// OnTick is the scheduler callback. It never blocks: when the controller
// is still busy with the previous tick the notification is dropped, so a
// slow frame cannot back up the scheduler.
func (c *Controller) OnTick(now time.Time) {
	select {
	case c.ticks <- now:
	default:
	}
}

// Run is the control loop. Key commands, tick notifications and engine
// outcomes are serialized here; everything else in the package is called
// from this goroutine only.
//
// Liveness guarantee: Run returns soon after ctx is cancelled, the keys
// channel closes, or a quit command arrives. A run still in flight is
// cancelled first and Run waits for its outcome, so the engine goroutine
// never outlives the loop.
func (c *Controller) Run(ctx context.Context, keys <-chan Command) error {
	c.redraw()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case cmd, ok := <-keys:
			if !ok {
				cmd = CmdQuit
			}
			c.handle(cmd)
			if c.quit {
				c.shutdown()
				return nil
			}
		case out := <-c.outcomes:
			c.finishRun(out)
			c.redraw()
		case now := <-c.ticks:
			c.tick(now)
		}
	}
}

// handle dispatches one keyboard command. Any key acknowledges a failed
// run before the command itself applies, so Enter after a failure both
// dismisses the error and starts the next run.
func (c *Controller) handle(cmd Command) {
	if c.state == StateFailed {
		c.state = StateIdle
		c.status = "READY"
		c.lastErr = nil
	}
	switch cmd {
	case CmdStart:
		c.startRun()
	case CmdStop:
		c.stopRun()
	case CmdCopy:
		c.copyResult()
	case CmdExport:
		c.exportResult()
	case CmdQuit:
		c.quit = true
	}
	c.redraw()
}

// startRun spawns a fresh engine. Starting is ignored while a run is in
// flight or still winding down.
func (c *Controller) startRun() {
	if c.state == StateRunning || c.state == StateStopping {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.eng = engine.New(c.opts.Provider)
	c.runCancel = cancel
	c.state = StateRunning
	c.status = "STARTING"
	c.alert = ""
	c.lastErr = nil
	c.haveSample = false
	c.analyzer = c.analyzer[:0]
	logging.Logger.WithField("run", c.eng.RunID()).Info("starting run")
	eng := c.eng
	go func() {
		result, err := eng.Run(runCtx)
		c.outcomes <- outcome{result: result, err: err}
	}()
}

// stopRun cancels the in-flight run. The state stays Stopping until the
// engine posts its outcome.
func (c *Controller) stopRun() {
	if c.state != StateRunning {
		return
	}
	c.state = StateStopping
	c.status = "CANCELLING"
	c.runCancel()
}

// finishRun settles the controller once the engine goroutine is done.
// Only a clean completion touches the history; cancelled and failed runs
// leave it exactly as it was.
func (c *Controller) finishRun(out outcome) {
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	switch {
	case out.err == nil:
		c.lastResult = out.result
		c.state = StateCompleted
		c.status = "COMPLETE"
		if c.opts.History != nil {
			entries, err := c.opts.History.Append(*out.result)
			c.entries = entries
			if err != nil {
				metrics.HistoryWriteErrors.Inc()
				logging.Logger.WithError(err).Error("failed to persist history")
				c.setAlert("history save failed")
			}
		}
	case errors.Is(out.err, context.Canceled):
		c.state = StateIdle
		c.status = "CANCELLED"
	default:
		c.lastErr = out.err
		c.state = StateFailed
		c.status = "ERROR"
	}
}

// tick advances time-driven state: it pulls the latest engine sample,
// expires the alert, and lets a completed run settle back to idle.
func (c *Controller) tick(now time.Time) {
	c.observe()
	if c.alert != "" && now.After(c.alertUntil) {
		c.alert = ""
	}
	if c.state == StateCompleted {
		c.state = StateIdle
	}
	c.redraw()
}

// observe pulls the engine's latest sample and folds it into the render
// state. Samples are deduplicated so a stalled run does not grow the
// analyzer window.
func (c *Controller) observe() {
	if c.eng == nil {
		return
	}
	s, ok := c.eng.Latest()
	if !ok {
		return
	}
	if c.haveSample && s == c.lastSample {
		return
	}
	c.lastSample = s
	c.haveSample = true
	if s.Valid && (s.Phase == engine.Download || s.Phase == engine.Upload) {
		c.analyzer = append(c.analyzer, s.Value)
		if len(c.analyzer) > c.opts.AnalyzerCapacity {
			c.analyzer = c.analyzer[len(c.analyzer)-c.opts.AnalyzerCapacity:]
		}
	}
	if c.state == StateRunning {
		c.status = statusFor(s.Phase)
	}
}

// statusFor maps an engine phase to the title-bar label.
func statusFor(p engine.Phase) string {
	switch p {
	case engine.Selecting:
		return "FINDING SERVER"
	case engine.Ping:
		return "PINGING"
	case engine.Download:
		return "DOWNLOADING"
	case engine.Upload:
		return "UPLOADING"
	case engine.Done:
		return "COMPLETE"
	case engine.Cancelled:
		return "CANCELLED"
	case engine.Failed:
		return "ERROR"
	}
	return "READY"
}

// shutdown cancels any in-flight run and waits for the engine goroutine to
// post its outcome, so Run never leaves a goroutine behind.
func (c *Controller) shutdown() {
	if c.runCancel == nil {
		return
	}
	c.runCancel()
	c.finishRun(<-c.outcomes)
}

// Summary is the one-line form of a result used for the clipboard.
func Summary(r *data.TestResult) string {
	return fmt.Sprintf("Ping: %.0f ms | Down: %.2f Mbps | Up: %.2f Mbps",
		r.PingMs, r.DownloadMbps, r.UploadMbps)
}

// copyResult puts the latest result summary on the clipboard. Failures
// surface as an alert and never touch the run state.
func (c *Controller) copyResult() {
	if c.lastResult == nil {
		c.setAlert("no result to copy")
		return
	}
	if err := c.opts.Clipboard(Summary(c.lastResult)); err != nil {
		logging.Logger.WithError(err).Warn("clipboard copy failed")
		c.setAlert("copy failed")
		return
	}
	c.setAlert("summary copied")
}

// exportResult writes the latest result to a JSON file in ExportDir.
func (c *Controller) exportResult() {
	if c.lastResult == nil {
		c.setAlert("no result to export")
		return
	}
	var runID string
	if c.eng != nil {
		runID = c.eng.RunID()
	}
	path, err := ExportResult(c.opts.ExportDir, runID, c.lastResult)
	if err != nil {
		logging.Logger.WithError(err).Warn("export failed")
		c.setAlert("export failed")
		return
	}
	c.setAlert("exported " + filepath.Base(path))
}

func (c *Controller) setAlert(msg string) {
	c.alert = msg
	c.alertUntil = time.Now().Add(alertTTL)
}

// redraw paints one frame. With no output writer the controller runs
// headless, which is how most tests exercise it.
func (c *Controller) redraw() {
	if c.opts.Out == nil {
		return
	}
	fmt.Fprint(c.opts.Out, "\x1b[H\x1b[2J"+Render(c.renderState()))
}

// renderState snapshots everything a frame depends on.
func (c *Controller) renderState() RenderState {
	var errMsg string
	if c.lastErr != nil {
		errMsg = c.lastErr.Error()
	}
	return RenderState{
		State:        c.state,
		Status:       c.status,
		Alert:        c.alert,
		Sample:       c.lastSample,
		HaveSample:   c.haveSample,
		Result:       c.lastResult,
		Err:          errMsg,
		Entries:      c.entries,
		Analyzer:     c.analyzer,
		MaxGaugeMbps: c.opts.MaxGaugeMbps,
	}
}
