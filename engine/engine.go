// Package engine drives a measurement run through its phases and publishes
// progress samples for the dashboard to render.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/gaugelab/speedboard/data"
	"github.com/gaugelab/speedboard/logging"
	"github.com/gaugelab/speedboard/metrics"
	"github.com/gaugelab/speedboard/probe"
	"github.com/gaugelab/speedboard/units"
)

// Engine runs one measurement from server selection through upload and
// publishes progress samples as it goes. An Engine serves a single run;
// the dashboard creates a fresh one each time the user starts a test.
type Engine struct {
	provider probe.Provider
	runID    string
	started  atomic.Bool
	start    time.Time
	cell     Cell
}

// New creates an engine that will measure through the given provider.
func New(p probe.Provider) *Engine {
	return &Engine{
		provider: p,
		runID:    uuid.NewString(),
	}
}

// RunID identifies this run in logs and export filenames.
func (e *Engine) RunID() string {
	return e.runID
}

// Latest returns the most recently published sample. ok is false before
// the run publishes its first one.
func (e *Engine) Latest() (Sample, bool) {
	return e.cell.Load()
}

// Run drives the phases strictly in order: select, ping, download, upload.
// It checks ctx at every phase boundary and hands it to every provider
// call, so a cancelled run winds down within a single provider operation.
//
// Run returns the assembled result on success, ctx.Err() when the run was
// cancelled, and the provider's error when a phase failed. Cancelled and
// failed runs return no result and leave a terminal Cancelled or Failed
// sample behind. Run may be called at most once per Engine.
func (e *Engine) Run(ctx context.Context) (*data.TestResult, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, errors.New("engine: Run called twice")
	}
	e.start = time.Now()
	startedAt := time.Now().UTC()
	logger := logging.Logger.WithField("run", e.runID)
	metrics.RunsStarted.Inc()

	logger.Info("selecting server")
	e.publish(Sample{Phase: Selecting})
	srv, err := e.provider.SelectServer(ctx)
	if err != nil {
		return nil, e.fail(logger, err)
	}
	logger.WithField("server", srv.ID).Info("server selected")
	e.publish(Sample{Phase: Selecting, Detail: srv.Label})

	if err := e.checkpoint(ctx, logger); err != nil {
		return nil, err
	}
	e.publish(Sample{Phase: Ping, Detail: srv.Label})
	rtt, err := e.provider.Ping(ctx, srv)
	if err != nil {
		return nil, e.fail(logger, err)
	}
	pingMs := float64(rtt) / float64(time.Millisecond)
	logger.WithField("rtt_ms", pingMs).Info("ping complete")
	e.publish(Sample{Phase: Ping, Value: pingMs, Valid: true, Detail: srv.Label})

	if err := e.checkpoint(ctx, logger); err != nil {
		return nil, err
	}
	downloadMbps, err := e.measure(ctx, logger, Download, srv)
	if err != nil {
		return nil, err
	}

	if err := e.checkpoint(ctx, logger); err != nil {
		return nil, err
	}
	uploadMbps, err := e.measure(ctx, logger, Upload, srv)
	if err != nil {
		return nil, err
	}

	result := &data.TestResult{
		ServerID:     srv.ID,
		ServerLabel:  srv.Label,
		PingMs:       pingMs,
		DownloadMbps: downloadMbps,
		UploadMbps:   uploadMbps,
		StartedAt:    startedAt,
		CompletedAt:  time.Now().UTC(),
	}
	e.publish(Sample{Phase: Done, Value: downloadMbps, Valid: true, Unit: units.Mbps, Detail: srv.Label})
	metrics.RunsCompleted.Inc()
	metrics.TestRate.WithLabelValues("download").Observe(downloadMbps)
	metrics.TestRate.WithLabelValues("upload").Observe(uploadMbps)
	logger.WithField("download_mbps", downloadMbps).
		WithField("upload_mbps", uploadMbps).Info("run complete")
	return result, nil
}

// measure runs one throughput phase, publishing a sample at phase entry,
// one per progress report, and one with the settled figure.
func (e *Engine) measure(ctx context.Context, logger log.Interface, phase Phase, srv probe.ServerInfo) (float64, error) {
	e.publish(Sample{Phase: phase, Unit: units.Mbps, Detail: srv.Label})
	onProgress := func(mbps float64) {
		e.publish(Sample{Phase: phase, Value: mbps, Valid: true, Unit: units.Mbps, Detail: srv.Label})
	}
	var mbps float64
	var err error
	switch phase {
	case Download:
		mbps, err = e.provider.Download(ctx, srv, onProgress)
	case Upload:
		mbps, err = e.provider.Upload(ctx, srv, onProgress)
	default:
		panic("engine: measure called with a non-throughput phase")
	}
	if err != nil {
		return 0, e.fail(logger, err)
	}
	logger.WithField("mbps", mbps).Infof("%s complete", phase)
	e.publish(Sample{Phase: phase, Value: mbps, Valid: true, Unit: units.Mbps, Detail: srv.Label})
	return mbps, nil
}

// checkpoint enforces the phase-boundary cancellation check.
func (e *Engine) checkpoint(ctx context.Context, logger log.Interface) error {
	if err := ctx.Err(); err != nil {
		return e.fail(logger, err)
	}
	return nil
}

// fail records the terminal sample for err and passes err through.
// Cancellation is not a failure: it leaves a Cancelled sample and returns
// the context error rather than a measurement error.
func (e *Engine) fail(logger log.Interface, err error) error {
	if errors.Is(err, context.Canceled) {
		logger.Info("run cancelled")
		metrics.RunsCancelled.Inc()
		e.publish(Sample{Phase: Cancelled})
		return err
	}
	kind := probe.Other
	var perr *probe.Error
	if errors.As(err, &perr) {
		kind = perr.Kind
	}
	logger.WithError(err).Warn("run failed")
	metrics.RunsFailed.WithLabelValues(kind.String()).Inc()
	e.publish(Sample{Phase: Failed, Detail: err.Error()})
	return err
}

// publish stamps the sample with the monotonic elapsed offset and makes it
// the latest.
func (e *Engine) publish(s Sample) {
	s.Elapsed = time.Since(e.start)
	e.cell.Store(s)
	metrics.SamplesPublished.Inc()
}
