package metrics

import (
	"testing"

	"github.com/m-lab/go/prometheusx/promtest"
)

func TestLintMetrics(t *testing.T) {
	RunsFailed.WithLabelValues("other")
	TestRate.WithLabelValues("download")
	promtest.LintMetrics(t)
}
