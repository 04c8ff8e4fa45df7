// Package data defines the archival records shared by the engine, the
// history store and the exporters.
package data

import "time"

// TestResult is the record serialized as JSON in the history file and in
// export files. It is assembled exactly once, when a run completes;
// cancelled and failed runs never produce one.
type TestResult struct {
	// ServerID identifies the measurement server that served the run.
	ServerID string `json:"serverId"`
	// ServerLabel is the human-readable server name shown in the results panel.
	ServerLabel string `json:"serverLabel"`
	// PingMs is the measured round-trip time in milliseconds.
	PingMs float64 `json:"pingMs"`
	// DownloadMbps is the mean download throughput in Mbps.
	DownloadMbps float64 `json:"downloadMbps"`
	// UploadMbps is the mean upload throughput in Mbps.
	UploadMbps float64 `json:"uploadMbps"`
	// StartedAt is the UTC time at which the run started.
	StartedAt time.Time `json:"startedAt"`
	// CompletedAt is the UTC time at which the run finished.
	CompletedAt time.Time `json:"completedAt"`
}
