package domain

import "time"

// RiskLevel is the severity bucket derived from a risk score.
type RiskLevel string

// Risk levels.
const (
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// Score bounds and level thresholds.
const (
	MinRiskScore        = 0
	MaxRiskScore        = 100
	HighRiskThreshold   = 70
	MediumRiskThreshold = 40
)

// RiskLevelForScore maps a clamped score to its level.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= HighRiskThreshold:
		return RiskLevelHigh
	case score >= MediumRiskThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// BlastRadius is the set of components and endpoints an assessment predicts
// will be affected. Notes is reserved for rule annotations and currently
// always empty.
type BlastRadius struct {
	AffectedComponents []string `json:"affected_components"`
	AffectedEndpoints  []string `json:"affected_endpoints"`
	Notes              []string `json:"notes"`
}

// RiskAssessment is one scored evaluation of a Change. Assessments form an
// append-only history per change.
type RiskAssessment struct {
	ID          string
	ChangeID    string
	Score       int
	Level       RiskLevel
	BlastRadius BlastRadius
	Reasoning   []string
	CreatedAt   time.Time
}
