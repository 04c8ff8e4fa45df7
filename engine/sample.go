package engine

import (
	"fmt"
	"time"

	"github.com/gaugelab/speedboard/units"
)

// Phase identifies where a run currently is.
type Phase int

const (
	// Idle means the run has not produced a sample yet.
	Idle Phase = iota
	// Selecting means server discovery is in progress.
	Selecting
	// Ping means the round-trip probe is in progress.
	Ping
	// Download means the download subtest is in progress.
	Download
	// Upload means the upload subtest is in progress.
	Upload
	// Done means the run completed and a result is available.
	Done
	// Cancelled means the run was stopped before completing.
	Cancelled
	// Failed means a phase reported an unrecoverable error.
	Failed
)

// String returns the name used in logs.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Ping:
		return "ping"
	case Download:
		return "download"
	case Upload:
		return "upload"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Sample is one progress observation. Samples overwrite one another in the
// engine's cell; the dashboard only ever renders the most recent one.
type Sample struct {
	// Phase is the phase the run was in when the sample was taken.
	Phase Phase
	// Value is the measurement carried by the sample: throughput for
	// Download, Upload and Done, round-trip milliseconds for Ping. Only
	// meaningful when Valid is true.
	Value float64
	// Valid reports whether Value carries a measurement.
	Valid bool
	// Unit is the throughput unit of Value. Ping samples always carry
	// milliseconds regardless of this field.
	Unit units.Unit
	// Detail carries the server label once one is selected, and the
	// failure reason for Failed samples.
	Detail string
	// Elapsed is the offset from run start, taken from the monotonic
	// clock. It never decreases from one sample to the next within a run.
	Elapsed time.Duration
}
