// Package probe defines the measurement provider surface consumed by the
// engine, together with the failure taxonomy shared by provider
// implementations.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ServerInfo describes one measurement server chosen for a run.
type ServerInfo struct {
	// ID uniquely identifies the server within the provider.
	ID string
	// Label is the human-readable name shown in the dashboard.
	Label string
	// Host is the server's host:port.
	Host string
	// DownloadURL is the WebSocket endpoint for the download subtest.
	DownloadURL string
	// UploadURL is the WebSocket endpoint for the upload subtest.
	UploadURL string
}

// Provider runs the individual measurement phases. Implementations must
// honor ctx in every call, must return ctx.Err() untouched when the run is
// cancelled, and must not retry on their own.
type Provider interface {
	// SelectServer picks the nearest usable server.
	SelectServer(ctx context.Context) (ServerInfo, error)
	// Ping measures the round-trip time to srv.
	Ping(ctx context.Context, srv ServerInfo) (time.Duration, error)
	// Download measures download throughput against srv, reporting
	// in-progress mean rates in Mbps through onProgress. It returns the
	// mean rate in Mbps over the whole subtest.
	Download(ctx context.Context, srv ServerInfo, onProgress func(mbps float64)) (float64, error)
	// Upload measures upload throughput; same contract as Download.
	Upload(ctx context.Context, srv ServerInfo, onProgress func(mbps float64)) (float64, error)
}

// Kind classifies a measurement failure.
type Kind int

const (
	// Other covers every failure the more specific kinds do not.
	Other Kind = iota
	// NoServer means discovery produced no usable server.
	NoServer
	// NetworkFailure means a connection could not be established or died
	// mid-phase.
	NetworkFailure
	// Timeout means a phase exceeded its I/O deadline.
	Timeout
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case NoServer:
		return "no-server"
	case NetworkFailure:
		return "network-failure"
	case Timeout:
		return "timeout"
	default:
		return "other"
	}
}

// Error is the failure reported when a measurement phase cannot complete.
// Cancellation is never an Error: providers return ctx.Err() unwrapped so
// callers can tell a stopped run from a failed one.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Op names the phase or call that failed.
	Op string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify wraps err in an *Error carrying the most specific Kind that
// applies. A nil error stays nil and context cancellation passes through
// untouched. An error that already is an *Error is returned as is.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	kind := Other
	var nerr net.Error
	var operr *net.OpError
	var dnserr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.As(err, &nerr) && nerr.Timeout():
		kind = Timeout
	case errors.As(err, &operr), errors.As(err, &dnserr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		kind = NetworkFailure
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
