package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel is the categorical bucket used by patterns, anomalies and
// the composite assessment. Patterns and anomalies never use "minimal".
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Weight maps a level onto the shared severity/risk weight table.
// Unknown levels count as medium.
func (l RiskLevel) Weight() float64 {
	switch l {
	case RiskCritical:
		return 1.0
	case RiskHigh:
		return 0.75
	case RiskMedium:
		return 0.5
	case RiskLow:
		return 0.25
	case RiskMinimal:
		return 0
	default:
		return 0.5
	}
}

// Rank orders levels from minimal (0) to critical (4).
func (l RiskLevel) Rank() int {
	switch l {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether l is one of the five known levels.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskMinimal, RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// MaxEvidence caps every evidence list so output size stays bounded.
const MaxEvidence = 10

// Movement is one incoming→outgoing pair of a rapid pass-through.
type Movement struct {
	InHash      string          `json:"inHash"`
	OutHash     string          `json:"outHash"`
	InAmount    decimal.Decimal `json:"inAmount"`
	OutAmount   decimal.Decimal `json:"outAmount"`
	TimeDiffSec float64         `json:"timeDiffSec"`
}

// Evidence is the bounded proof attached to a PatternMatch.
type Evidence struct {
	TxHashes      []string          `json:"txHashes"`
	Addresses     []string          `json:"addresses"`
	Amounts       []decimal.Decimal `json:"amounts,omitempty"`
	AverageAmount float64           `json:"averageAmount,omitempty"`
	Variance      float64           `json:"variance,omitempty"`
	Movements     []Movement        `json:"movements,omitempty"`
}

// PatternMatch is the single result a detector produces for one analysis.
type PatternMatch struct {
	PatternID        string          `json:"patternId"`
	Name             string          `json:"name"`
	NameJA           string          `json:"nameJa"`
	NameEN           string          `json:"nameEn"`
	DescriptionJA    string          `json:"descriptionJa"`
	DescriptionEN    string          `json:"descriptionEn"`
	RiskLevel        RiskLevel       `json:"riskLevel"`
	Confidence       float64         `json:"confidence"` // 0-1
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	TransactionCount int             `json:"transactionCount"`
	AddressesCount   int             `json:"addressesCount,omitempty"`
	HopCount         int             `json:"hopCount,omitempty"`
	TimeframeSeconds float64         `json:"timeframeSeconds,omitempty"`
	Threshold        float64         `json:"threshold,omitempty"`
	Evidence         Evidence        `json:"evidence"`
}

// AnomalyType identifies the statistical test that raised an Anomaly.
type AnomalyType string

const (
	AnomalyAmount        AnomalyType = "amount_anomaly"
	AnomalyFrequency     AnomalyType = "frequency_anomaly"
	AnomalyTimePattern   AnomalyType = "time_pattern_anomaly"
	AnomalyConcentration AnomalyType = "counterparty_concentration"
	AnomalyOneTimeLarge  AnomalyType = "one_time_large_transaction"
	AnomalyOffHours      AnomalyType = "off_hours_activity"
	AnomalyRapidMovement AnomalyType = "rapid_movement"
	AnomalyBurstActivity AnomalyType = "burst_activity"
)

// Anomaly is one statistical outlier. Only the metric fields relevant to
// its Type are populated.
type Anomaly struct {
	Type          AnomalyType `json:"type"`
	Severity      RiskLevel   `json:"severity"`
	DescriptionJA string      `json:"descriptionJa"`
	DescriptionEN string      `json:"descriptionEn"`
	ZScore        float64     `json:"zScore,omitempty"`
	Ratio         float64     `json:"ratio,omitempty"`
	Mean          float64     `json:"mean,omitempty"`
	Stdev         float64     `json:"stdev,omitempty"`
	Amount        float64     `json:"amount,omitempty"`
	Count         int         `json:"count,omitempty"`
	Intensity     float64     `json:"intensity,omitempty"`
	TxHash        string      `json:"txHash,omitempty"`
	Date          string      `json:"date,omitempty"`
	Counterparty  string      `json:"counterparty,omitempty"`
	Timestamp     *time.Time  `json:"timestamp,omitempty"`
	Evidence      []string    `json:"evidence,omitempty"`
}

// RiskFactor names one of the five weighted sub-scores.
type RiskFactor string

const (
	FactorPattern      RiskFactor = "pattern"
	FactorAnomaly      RiskFactor = "anomaly"
	FactorCounterparty RiskFactor = "counterparty"
	FactorVolume       RiskFactor = "volume"
	FactorAge          RiskFactor = "age"
)

// FactorScore is one row of the assessment breakdown.
type FactorScore struct {
	Score         float64 `json:"score"`  // 0-100
	Weight        float64 `json:"weight"` // fixed, all weights sum to 1
	Contribution  float64 `json:"contribution"`
	DescriptionJA string  `json:"descriptionJa"`
	DescriptionEN string  `json:"descriptionEn"`
}

// Recommendations holds the same advice in both languages.
type Recommendations struct {
	JA []string `json:"ja"`
	EN []string `json:"en"`
}

// RiskAssessment is the composite verdict for one address.
type RiskAssessment struct {
	Address         string                     `json:"address"`
	RiskScore       float64                    `json:"riskScore"` // 0-100
	RiskLevel       RiskLevel                  `json:"riskLevel"`
	RiskLevelJA     string                     `json:"riskLevelJa"`
	RiskLevelEN     string                     `json:"riskLevelEn"`
	Breakdown       map[RiskFactor]FactorScore `json:"breakdown"`
	PatternCount    int                        `json:"patternCount"`
	AnomalyCount    int                        `json:"anomalyCount"`
	Recommendations Recommendations            `json:"recommendations"`
	AssessedAt      time.Time                  `json:"assessedAt"`
}

// TimelineEvent is one row of the chronological report timeline.
type TimelineEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Event     string          `json:"event"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"txHash"`
}
