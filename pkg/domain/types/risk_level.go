package types

import "fmt"

// RiskLevel is the banded label of a composite risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// AllRiskLevels returns all risk levels from lowest to highest
func AllRiskLevels() []RiskLevel {
	return []RiskLevel{
		RiskLevelLow,
		RiskLevelMedium,
		RiskLevelHigh,
		RiskLevelCritical,
	}
}

// Rank returns the position of the level in the ordered label set, or -1 if invalid
func (l RiskLevel) Rank() int {
	for i, level := range AllRiskLevels() {
		if level == l {
			return i
		}
	}
	return -1
}

// IsValid checks if the risk level is valid
func (l RiskLevel) IsValid() bool {
	return l.Rank() >= 0
}

// String returns the string representation of the risk level
func (l RiskLevel) String() string {
	return string(l)
}

// ParseRiskLevel parses a string into a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(s)
	if !level.IsValid() {
		return "", fmt.Errorf("invalid risk level: %s", s)
	}
	return level, nil
}
