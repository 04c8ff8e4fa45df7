package dashboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gaugelab/speedboard/data"
)

// ExportResult writes r as an indented JSON file under dir and returns the
// full path. The name carries the completion time and a run id prefix so
// repeated exports never collide.
func ExportResult(dir, runID string, r *data.TestResult) (string, error) {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	name := fmt.Sprintf("speedboard-result-%s-%s.json",
		r.CompletedAt.Format("20060102-150405"), runID)
	path := filepath.Join(dir, name)
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", err
	}
	return path, nil
}
