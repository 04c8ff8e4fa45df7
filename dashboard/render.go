package dashboard

import (
	"fmt"
	"strings"

	"github.com/gaugelab/speedboard/data"
	"github.com/gaugelab/speedboard/engine"
	"github.com/gaugelab/speedboard/history"
	"github.com/gaugelab/speedboard/units"
)

const (
	frameWidth = 62
	gaugeWidth = 40
)

// sparkBlocks are the analyzer bar glyphs, shortest first.
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// RenderState is everything a frame depends on. Render is a pure function
// of this snapshot: rendering the same snapshot twice yields byte-identical
// frames.
type RenderState struct {
	// State is the controller's run state.
	State RunState
	// Status is the short label shown in the title bar.
	Status string
	// Alert is a transient notice, empty when there is none.
	Alert string
	// Sample is the most recent engine sample. Only meaningful when
	// HaveSample is true.
	Sample engine.Sample
	// HaveSample reports whether a run has published anything yet.
	HaveSample bool
	// Result is the most recent completed result, nil before the first one.
	Result *data.TestResult
	// Err is the failure message of the last run, empty when it succeeded.
	Err string
	// Entries is the history snapshot, newest first.
	Entries []history.Entry
	// Analyzer holds the recent throughput samples behind the sparkline.
	Analyzer []float64
	// MaxGaugeMbps is the gauge's full-scale reading.
	MaxGaugeMbps float64
}

// Render draws one complete frame. It never writes to the terminal itself;
// the controller owns that.
func Render(st RenderState) string {
	var b strings.Builder

	fmt.Fprintf(&b, " SPEEDBOARD  [%s]\n", st.Status)
	b.WriteString(strings.Repeat("─", frameWidth))
	b.WriteString("\n")

	renderRun(&b, st)

	if st.Err != "" {
		fmt.Fprintf(&b, "\n ERROR: %s\n press any key to dismiss\n", st.Err)
	}

	if st.Result != nil {
		renderResult(&b, st.Result)
	}

	renderHistory(&b, st.Entries)

	if st.Alert != "" {
		fmt.Fprintf(&b, "\n ! %s\n", st.Alert)
	}

	b.WriteString("\n enter start · esc stop · c copy · j export · q quit\n")
	return b.String()
}

func renderRun(b *strings.Builder, st RenderState) {
	if !st.HaveSample {
		b.WriteString("\n press enter to start a speed test\n")
		return
	}
	s := st.Sample
	if s.Detail != "" && s.Phase != engine.Failed {
		fmt.Fprintf(b, " Server: %s\n", s.Detail)
	}
	switch s.Phase {
	case engine.Selecting:
		b.WriteString("\n locating server...\n")
	case engine.Ping:
		if s.Valid {
			fmt.Fprintf(b, "\n Ping: %s\n", units.FormatLatency(s.Value))
		} else {
			b.WriteString("\n measuring ping...\n")
		}
	case engine.Download, engine.Upload:
		var value float64
		if s.Valid {
			value = s.Value
		}
		fmt.Fprintf(b, "\n %s %s\n", Gauge(value, st.MaxGaugeMbps, gaugeWidth),
			units.FormatSpeed(value))
		if len(st.Analyzer) > 0 {
			fmt.Fprintf(b, " %s\n", Sparkline(st.Analyzer, gaugeWidth))
		}
	}
	fmt.Fprintf(b, "\n Phase: %s   Elapsed: %.1fs\n", s.Phase, s.Elapsed.Seconds())
}

func renderResult(b *strings.Builder, r *data.TestResult) {
	b.WriteString("\n RESULTS\n")
	fmt.Fprintf(b, "   Server:   %s\n", r.ServerLabel)
	fmt.Fprintf(b, "   Ping:     %s\n", units.FormatLatency(r.PingMs))
	fmt.Fprintf(b, "   Download: %s\n", units.FormatSpeedDual(r.DownloadMbps))
	fmt.Fprintf(b, "   Upload:   %s\n", units.FormatSpeedDual(r.UploadMbps))
	fmt.Fprintf(b, "   Quality:  %s\n", QualityOf(r.DownloadMbps, r.UploadMbps, r.PingMs))
	fmt.Fprintf(b, "   Finished: %s\n", r.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
}

func renderHistory(b *strings.Builder, entries []history.Entry) {
	if len(entries) == 0 {
		return
	}
	b.WriteString("\n HISTORY (newest first)\n")
	for _, e := range entries {
		fmt.Fprintf(b, "   #%d  %s  down %7.2f  up %7.2f  ping %4.0f ms  %s\n",
			e.Ordinal, e.CompletedAt.Format("2006-01-02 15:04"),
			e.DownloadMbps, e.UploadMbps, e.PingMs, e.ServerLabel)
	}
}

// Gauge renders a horizontal bar of the given width, filled in proportion
// to value/max. Values outside [0, max] clamp to the ends of the scale.
func Gauge(value, max float64, width int) string {
	ratio := 0.0
	if max > 0 {
		ratio = value / max
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// Sparkline renders the most recent values as block glyphs, scaled against
// the largest value in the window. At most width glyphs are drawn.
func Sparkline(values []float64, width int) string {
	if len(values) > width {
		values = values[len(values)-width:]
	}
	var max float64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if max > 0 {
			idx = int(v / max * float64(len(sparkBlocks)-1))
		}
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkBlocks) {
			idx = len(sparkBlocks) - 1
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}
