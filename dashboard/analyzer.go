package dashboard

// Quality is the connection verdict shown next to a completed result.
type Quality string

// Verdicts, best first.
const (
	QualityUltra Quality = "ULTRA"
	QualityFast  Quality = "FAST"
	QualityGood  Quality = "GOOD"
	QualityBasic Quality = "BASIC"
)

// QualityOf grades a run. All three measurements must clear a tier's
// bar for the run to earn that tier.
func QualityOf(downloadMbps, uploadMbps, pingMs float64) Quality {
	switch {
	case downloadMbps >= 500 && uploadMbps >= 100 && pingMs < 20:
		return QualityUltra
	case downloadMbps >= 200 && uploadMbps >= 50 && pingMs < 40:
		return QualityFast
	case downloadMbps >= 50 && uploadMbps >= 10 && pingMs < 60:
		return QualityGood
	default:
		return QualityBasic
	}
}
