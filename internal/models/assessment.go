package models

import (
	"time"
)

// DetectorResult is the outcome of one detector for one day.
// Metrics holds detector-specific numeric metadata; ModelName is set only by model-backed detectors.
type DetectorResult struct {
	Algorithm  string             `json:"algorithm" yaml:"algorithm"`
	RiskScore  int                `json:"risk_score" yaml:"risk_score"`
	Alert      bool               `json:"alert" yaml:"alert"`
	Messages   []string           `json:"messages" yaml:"messages"`
	CanAnalyze bool               `json:"can_analyze" yaml:"can_analyze"`
	Metrics    map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	ModelName  string             `json:"model_name,omitempty" yaml:"model_name,omitempty"`
}

// Unanalyzed builds a result for a detector that could not establish a baseline.
func Unanalyzed(algorithm, message string) DetectorResult {
	return DetectorResult{
		Algorithm:  algorithm,
		Messages:   []string{message},
		CanAnalyze: false,
	}
}

// RiskLevel is the banded interpretation of a total risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Band is an inclusive score range mapped to a level.
type Band struct {
	Level RiskLevel
	Min   int
	Max   int
}

// Bands partition [0, MaxRiskScore] with no gaps or overlaps.
var Bands = []Band{
	{Level: RiskLow, Min: 0, Max: 39},
	{Level: RiskMedium, Min: 40, Max: 59},
	{Level: RiskHigh, Min: 60, Max: 79},
	{Level: RiskCritical, Min: 80, Max: MaxRiskScore},
}

// MaxRiskScore is the ceiling of a combined assessment.
const MaxRiskScore = 100

// LevelFor returns the first band containing score. Out-of-range scores are clamped first.
func LevelFor(score int) RiskLevel {
	score = ClampScore(score, 0, MaxRiskScore)
	for _, b := range Bands {
		if score >= b.Min && score <= b.Max {
			return b.Level
		}
	}
	return RiskLow
}

// RecommendedAction returns the fixed action text for a level.
func RecommendedAction(level RiskLevel) string {
	switch level {
	case RiskCritical:
		return "URGENT: Investigate immediately, review CCTV if available, consider suspension pending investigation"
	case RiskHigh:
		return "Investigate today, review transactions in detail, check physical inventory"
	case RiskMedium:
		return "Monitor closely, check again tomorrow, prepare to investigate"
	default:
		return "Normal operations, no immediate action needed"
	}
}

// ClampScore limits v to [lo, hi].
func ClampScore(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Assessment is the combined, explainable verdict for one day. It is not modified after the combiner returns it.
type Assessment struct {
	Date              time.Time                 `json:"date" yaml:"date"`
	BranchID          string                    `json:"branch_id,omitempty" yaml:"branch_id,omitempty"`
	TotalRiskScore    int                       `json:"total_risk_score" yaml:"total_risk_score"`
	RiskLevel         RiskLevel                 `json:"risk_level" yaml:"risk_level"`
	RecommendedAction string                    `json:"recommended_action" yaml:"recommended_action"`
	AlertMessages     []string                  `json:"alert_messages" yaml:"alert_messages"`
	AlgorithmsRun     []string                  `json:"algorithms_run" yaml:"algorithms_run"`
	Detectors         []string                  `json:"detectors" yaml:"detectors"`
	Results           map[string]DetectorResult `json:"per_detector_results" yaml:"per_detector_results"`
	RequiresAlert     bool                      `json:"requires_alert" yaml:"requires_alert"`
}

// Result returns the named detector's result.
func (a *Assessment) Result(name string) (DetectorResult, bool) {
	r, ok := a.Results[name]
	return r, ok
}
