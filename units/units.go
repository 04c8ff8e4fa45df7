// Package units converts and formats the throughput and latency figures
// shown by the dashboard.
package units

import (
	"fmt"
	"math"
)

// Unit identifies a throughput unit.
type Unit int

const (
	// Mbps is megabits per second. Throughput is measured and persisted
	// in this unit.
	Mbps Unit = iota
	// MBps is megabytes per second, shown alongside Mbps in the results
	// panel.
	MBps
)

// String returns the display name of the unit.
func (u Unit) String() string {
	switch u {
	case Mbps:
		return "Mbps"
	case MBps:
		return "MB/s"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

const bitsPerByte = 8.0

// factor returns the multiplier that takes a value in Mbps to the given
// unit. Passing anything but the package constants is a programming error.
func factor(u Unit) float64 {
	switch u {
	case Mbps:
		return 1.0
	case MBps:
		return 1.0 / bitsPerByte
	}
	panic(fmt.Sprintf("units: conversion with unknown unit %d", int(u)))
}

// Convert translates value between throughput units. MBps is Mbps divided
// by eight. Convert panics when given a unit it does not know about;
// callers only ever pass the package constants.
func Convert(value float64, from, to Unit) float64 {
	return value * factor(to) / factor(from)
}

// FormatSpeed renders a throughput in Mbps the way the gauge shows it.
func FormatSpeed(mbps float64) string {
	return fmt.Sprintf("%6.2f Mbps", mbps)
}

// FormatSpeedDual renders a throughput in both units for the results panel.
func FormatSpeedDual(mbps float64) string {
	return fmt.Sprintf("%6.2f Mbps | %6.2f MB/s", mbps, Convert(mbps, Mbps, MBps))
}

// FormatLatency renders a round-trip time in milliseconds. Values that are
// negative or not finite render as "N/A".
func FormatLatency(ms float64) string {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.0f ms", ms)
}
