package analysis

import (
	"time"

	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/heuristics"
	"github.com/rawblock/fundflow-engine/internal/timeline"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Request is one analysis job. Transactions must already be normalized.
type Request struct {
	Address      string               `json:"address"`
	Transactions []models.Transaction `json:"transactions"`
	Language     string               `json:"language,omitempty"`
}

// Report is the complete result of analyzing one address.
type Report struct {
	ID                string                    `json:"id"`
	Address           string                    `json:"address"`
	Language          string                    `json:"language"`
	GeneratedAt       time.Time                 `json:"generatedAt"`
	TransactionCount  int                       `json:"transactionCount"`
	Patterns          []models.PatternMatch     `json:"patterns"`
	Anomalies         []models.Anomaly          `json:"anomalies"`
	AnomalyScore      float64                   `json:"anomalyScore"`
	AnomalySummary    heuristics.AnomalySummary `json:"anomalySummary"`
	TemporalAnomalies []models.Anomaly          `json:"temporalAnomalies"`
	Timeline          timeline.Analysis         `json:"timeline"`
	Flow              graph.FlowAnalysis        `json:"flow"`
	Graph             graph.Summary             `json:"graph"`
	RiskAssessment    models.RiskAssessment     `json:"riskAssessment"`
	Narrative         string                    `json:"narrative"`
	KeyFindings       []string                  `json:"keyFindings"`
	Events            []models.TimelineEvent    `json:"events"`
}

// AnomalyResult is the anomaly-only view served by the API.
type AnomalyResult struct {
	Address           string                    `json:"address"`
	Anomalies         []models.Anomaly          `json:"anomalies"`
	Score             float64                   `json:"score"`
	Summary           heuristics.AnomalySummary `json:"summary"`
	TemporalAnomalies []models.Anomaly          `json:"temporalAnomalies"`
}

// RiskResult bundles an assessment with the detector output it was built from.
type RiskResult struct {
	Assessment models.RiskAssessment `json:"riskAssessment"`
	Patterns   []models.PatternMatch `json:"patterns"`
	Anomalies  []models.Anomaly      `json:"anomalies"`
}
