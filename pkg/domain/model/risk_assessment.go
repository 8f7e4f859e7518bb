package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// Sub-score scale shared by impact, likelihood and exposure
const (
	MinRiskSubScore = 1
	MaxRiskSubScore = 5
)

// riskBands maps the upper bound of each composite score band to its label.
// Score = impact * likelihood * exposure, so the range is 1..125.
var riskBands = []struct {
	max   int
	level types.RiskLevel
}{
	{max: 10, level: types.RiskLevelLow},
	{max: 30, level: types.RiskLevelMedium},
	{max: 60, level: types.RiskLevelHigh},
	{max: MaxRiskSubScore * MaxRiskSubScore * MaxRiskSubScore, level: types.RiskLevelCritical},
}

// RiskAssessment is the current technician-authored scoring of a change request
type RiskAssessment struct {
	ChangeRequestID types.ChangeRequestID `json:"change_request_id"`
	TechnicianID    types.UserID          `json:"technician_id"`
	Impact          int                   `json:"impact"`
	Likelihood      int                   `json:"likelihood"`
	Exposure        int                   `json:"exposure"`
	Score           int                   `json:"score"`
	Level           types.RiskLevel       `json:"level"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// RiskScore is the derived part of an assessment
type RiskScore struct {
	Score int
	Level types.RiskLevel
}

// AssessRisk computes the composite score and its band. It is a pure function.
func AssessRisk(impact, likelihood, exposure int) (RiskScore, error) {
	subScores := []struct {
		name  string
		value int
	}{
		{"impact", impact},
		{"likelihood", likelihood},
		{"exposure", exposure},
	}
	for _, sub := range subScores {
		if sub.value < MinRiskSubScore || sub.value > MaxRiskSubScore {
			return RiskScore{}, goerr.Wrap(ErrValidation, "risk sub-score out of range",
				goerr.V("name", sub.name), goerr.V("value", sub.value))
		}
	}

	score := impact * likelihood * exposure
	return RiskScore{Score: score, Level: RiskLevelForScore(score)}, nil
}

// RiskLevelForScore bands a composite score into its label
func RiskLevelForScore(score int) types.RiskLevel {
	for _, band := range riskBands {
		if score <= band.max {
			return band.level
		}
	}
	return types.RiskLevelCritical
}

// Validate checks that the derived fields match the sub-scores
func (ra *RiskAssessment) Validate() error {
	rs, err := AssessRisk(ra.Impact, ra.Likelihood, ra.Exposure)
	if err != nil {
		return err
	}
	if rs.Score != ra.Score || rs.Level != ra.Level {
		return goerr.Wrap(ErrValidation, "risk score does not match sub-scores",
			goerr.V(ChangeRequestIDKey, ra.ChangeRequestID),
			goerr.V("score", ra.Score),
			goerr.V("level", ra.Level))
	}
	return nil
}
