package heuristics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Statistical Anomaly Detection
//
// Four independent population tests over one address's history. Each has
// a minimum sample size so sparse histories stay quiet rather than noisy,
// and each is skipped when its sample has zero variance.
//
//   amount        ≥10 transactions      |z| > threshold per transaction
//   frequency     ≥7 active days        z > threshold per day
//   time pattern  ≥6 active hours       01:00-05:59 share above 40%
//   counterparty  ≥5 counterparties     z > threshold per counterparty,
//                                       plus single large one-off transfers
//
// Undated transactions take part in the amount and counterparty tests
// only. All calendar grouping is UTC.

const (
	DefaultZScoreThreshold = 3.0

	amountMinSamples       = 10
	frequencyMinDays       = 7
	timeMinHours           = 6
	counterpartyMinPeers   = 5
	severeZScore           = 4.0
	offPeakRatioThreshold  = 0.4
	oneTimeLargeMultiplier = 2.0
)

// AnomalyDetector runs the statistical tests. It holds only configuration.
type AnomalyDetector struct {
	threshold float64
	logger    *zap.Logger
}

// NewAnomalyDetector uses DefaultZScoreThreshold when threshold is not positive.
func NewAnomalyDetector(threshold float64, logger *zap.Logger) *AnomalyDetector {
	if threshold <= 0 {
		threshold = DefaultZScoreThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnomalyDetector{threshold: threshold, logger: logger.Named("anomalies")}
}

// Threshold is the configured z-score cut-off.
func (d *AnomalyDetector) Threshold() float64 { return d.threshold }

// Detect runs every test and concatenates the results in a fixed order.
func (d *AnomalyDetector) Detect(txs []models.Transaction, address string) []models.Anomaly {
	address = models.NormalizeAddress(address)

	out := []models.Anomaly{}
	out = append(out, d.amountAnomalies(txs)...)
	out = append(out, d.frequencyAnomalies(txs)...)
	out = append(out, d.timeAnomalies(txs)...)
	out = append(out, d.counterpartyAnomalies(txs, address)...)

	d.logger.Debug("anomaly detection finished",
		zap.String("address", address),
		zap.Int("transactions", len(txs)),
		zap.Int("anomalies", len(out)))
	return out
}

func severityFor(z float64) models.RiskLevel {
	if z > severeZScore {
		return models.RiskHigh
	}
	return models.RiskMedium
}

func (d *AnomalyDetector) amountAnomalies(txs []models.Transaction) []models.Anomaly {
	if len(txs) < amountMinSamples {
		return nil
	}
	vals := amounts(txs)
	mean := stats.Mean(vals)
	stdev := stats.PStdev(vals)
	if stdev == 0 {
		return nil
	}

	var out []models.Anomaly
	for i, tx := range txs {
		z := stats.ZScore(vals[i], mean, stdev)
		if math.Abs(z) <= d.threshold {
			continue
		}
		a := models.Anomaly{
			Type:          models.AnomalyAmount,
			Severity:      severityFor(math.Abs(z)),
			DescriptionJA: fmt.Sprintf("通常と大きく異なる取引金額（Z-score: %.2f）", z),
			DescriptionEN: fmt.Sprintf("Transaction amount significantly different from normal (Z-score: %.2f)", z),
			ZScore:        z,
			Mean:          mean,
			Stdev:         stdev,
			Amount:        vals[i],
			TxHash:        tx.Hash,
			Evidence:      []string{tx.Hash},
		}
		if tx.HasTimestamp() {
			ts := tx.Timestamp
			a.Timestamp = &ts
		}
		out = append(out, a)
	}
	return out
}

func (d *AnomalyDetector) frequencyAnomalies(txs []models.Transaction) []models.Anomaly {
	daily := make(map[string]int)
	for _, tx := range txs {
		if tx.HasTimestamp() {
			daily[tx.Timestamp.Format(time.DateOnly)]++
		}
	}
	if len(daily) < frequencyMinDays {
		return nil
	}

	days := make([]string, 0, len(daily))
	counts := make([]float64, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		counts = append(counts, float64(daily[day]))
	}

	mean := stats.Mean(counts)
	stdev := stats.PStdev(counts)
	if stdev == 0 {
		return nil
	}

	var out []models.Anomaly
	for i, day := range days {
		z := stats.ZScore(counts[i], mean, stdev)
		if z <= d.threshold {
			continue
		}
		out = append(out, models.Anomaly{
			Type:          models.AnomalyFrequency,
			Severity:      severityFor(z),
			DescriptionJA: fmt.Sprintf("異常に高い取引頻度（Z-score: %.2f）", z),
			DescriptionEN: fmt.Sprintf("Abnormally high transaction frequency (Z-score: %.2f)", z),
			ZScore:        z,
			Mean:          mean,
			Stdev:         stdev,
			Count:         daily[day],
			Date:          day,
		})
	}
	return out
}

func (d *AnomalyDetector) timeAnomalies(txs []models.Transaction) []models.Anomaly {
	var hourly [24]int
	total := 0
	for _, tx := range txs {
		if tx.HasTimestamp() {
			hourly[tx.Timestamp.Hour()]++
			total++
		}
	}

	var active []float64
	for _, c := range hourly {
		if c > 0 {
			active = append(active, float64(c))
		}
	}
	if len(active) < timeMinHours || stats.PStdev(active) == 0 {
		return nil
	}

	offPeak := 0
	for h := 1; h <= 5; h++ {
		offPeak += hourly[h]
	}
	r := float64(offPeak) / float64(total)
	if r <= offPeakRatioThreshold {
		return nil
	}
	return []models.Anomaly{{
		Type:          models.AnomalyTimePattern,
		Severity:      models.RiskMedium,
		DescriptionJA: fmt.Sprintf("深夜時間帯（1-5時）に異常に多い取引（%.1f%%）", r*100),
		DescriptionEN: fmt.Sprintf("Abnormally high activity during off-peak hours 1-5 AM (%.1f%%)", r*100),
		Ratio:         r,
		Count:         offPeak,
	}}
}

type peerStats struct {
	address string
	count   int
	amount  decimal.Decimal
}

func (d *AnomalyDetector) counterpartyAnomalies(txs []models.Transaction, address string) []models.Anomaly {
	index := make(map[string]int)
	var peers []*peerStats
	for _, tx := range txs {
		cp := tx.Counterparty(address)
		i, ok := index[cp]
		if !ok {
			i = len(peers)
			index[cp] = i
			peers = append(peers, &peerStats{address: cp, amount: decimal.Zero})
		}
		peers[i].count++
		peers[i].amount = peers[i].amount.Add(tx.Value)
	}
	if len(peers) < counterpartyMinPeers {
		return nil
	}

	counts := make([]float64, len(peers))
	totals := make([]float64, len(peers))
	for i, p := range peers {
		counts[i] = float64(p.count)
		totals[i] = p.amount.InexactFloat64()
	}
	meanCount := stats.Mean(counts)
	stdevCount := stats.PStdev(counts)
	meanAmount := stats.Mean(totals)

	var out []models.Anomaly
	if stdevCount > 0 {
		for i, p := range peers {
			z := stats.ZScore(counts[i], meanCount, stdevCount)
			if z <= d.threshold {
				continue
			}
			out = append(out, models.Anomaly{
				Type:          models.AnomalyConcentration,
				Severity:      models.RiskMedium,
				DescriptionJA: fmt.Sprintf("特定アドレスとの異常に多い取引（Z-score: %.2f）", z),
				DescriptionEN: fmt.Sprintf("Abnormally high concentration with specific address (Z-score: %.2f)", z),
				ZScore:        z,
				Mean:          meanCount,
				Stdev:         stdevCount,
				Count:         p.count,
				Amount:        totals[i],
				Counterparty:  p.address,
			})
		}
	}

	for i, p := range peers {
		if p.count != 1 || totals[i] <= meanAmount*oneTimeLargeMultiplier {
			continue
		}
		out = append(out, models.Anomaly{
			Type:          models.AnomalyOneTimeLarge,
			Severity:      models.RiskHigh,
			DescriptionJA: "新規アドレスとの一回限りの大口取引",
			DescriptionEN: "One-time large transaction with new address",
			Mean:          meanAmount,
			Count:         1,
			Amount:        totals[i],
			Counterparty:  p.address,
		})
	}
	return out
}

// ─── Aggregation ──────────────────────────────────────────────────────

// Score folds anomalies into min(Σ severity weight × 10, 100), rounded to
// two decimals.
func Score(anomalies []models.Anomaly) float64 {
	total := 0.0
	for _, a := range anomalies {
		total += a.Severity.Weight()
	}
	return stats.Round2(min(total*10, 100))
}

// AnomalySummary counts anomalies by type and severity.
type AnomalySummary struct {
	Total       int                        `json:"total"`
	Score       float64                    `json:"score"`
	ByType      map[models.AnomalyType]int `json:"byType"`
	BySeverity  map[models.RiskLevel]int   `json:"bySeverity"`
	Highest     models.RiskLevel           `json:"highest,omitempty"`
	HasCritical bool                       `json:"hasCritical"`
	HasHigh     bool                       `json:"hasHigh"`
}

// Summarize builds an AnomalySummary.
func Summarize(anomalies []models.Anomaly) AnomalySummary {
	s := AnomalySummary{
		Total:      len(anomalies),
		Score:      Score(anomalies),
		ByType:     make(map[models.AnomalyType]int),
		BySeverity: make(map[models.RiskLevel]int),
	}
	for _, a := range anomalies {
		s.ByType[a.Type]++
		s.BySeverity[a.Severity]++
		if s.Highest == "" || a.Severity.Rank() > s.Highest.Rank() {
			s.Highest = a.Severity
		}
	}
	s.HasCritical = s.BySeverity[models.RiskCritical] > 0
	s.HasHigh = s.BySeverity[models.RiskHigh] > 0
	return s
}
