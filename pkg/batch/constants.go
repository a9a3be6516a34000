package batch

// Default configuration values shared by the engine, the CLI flags and the
// viper defaults.
const (
	DefaultConcurrency     = 4
	DefaultContinueOnError = false
	DefaultFormat          = FormatText
	DefaultTop             = 10
	DefaultThresholdPct    = 10.0
	DefaultMinCostGB       = 0.0
	DefaultSampleSize      = 0
	DefaultCacheTTL        = "24h"
)

// Severity weights used by the optimization score.
const (
	WeightCritical = 50.0
	WeightHigh     = 25.0
	WeightMedium   = 10.0
	WeightLow      = 0.0
)

// Severity names as reported by the optimize tool.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Severities in descending order of weight.
var Severities = []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// SeverityWeight maps a severity name to its score weight. Unknown severities weigh nothing.
func SeverityWeight(severity string) float64 {
	switch severity {
	case SeverityCritical:
		return WeightCritical
	case SeverityHigh:
		return WeightHigh
	case SeverityMedium:
		return WeightMedium
	default:
		return WeightLow
	}
}

// AnomalyNullPct is the average null percentage at or above which a profiled
// table is reported as anomalous.
const AnomalyNullPct = 50.0

// ReportSchemaVersion is the version of the JSON report document.
const ReportSchemaVersion = "1.0"
