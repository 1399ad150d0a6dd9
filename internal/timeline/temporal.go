package timeline

import (
	"fmt"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Thresholds for the temporal anomaly pass.
const (
	OffHoursRatioThreshold  = 0.3
	RapidRatioThreshold     = 0.2
	BurstIntensityThreshold = 5.0
)

// IdentifyTemporalAnomalies turns a timeline into anomaly records. It is
// separate from the statistical AnomalyDetector and its output is
// reported alongside, never merged into, the risk breakdown.
func IdentifyTemporalAnomalies(a Analysis) []models.Anomaly {
	out := []models.Anomaly{}

	if f := a.Frequency; f != nil && f.OffHoursRatio > OffHoursRatioThreshold {
		sev := models.RiskHigh
		if f.OffHoursRatio < 0.5 {
			sev = models.RiskMedium
		}
		pct := f.OffHoursRatio * 100
		out = append(out, models.Anomaly{
			Type:          models.AnomalyOffHours,
			Severity:      sev,
			Ratio:         f.OffHoursRatio,
			Count:         f.OffHoursCount,
			DescriptionJA: fmt.Sprintf("深夜早朝（1-5時）の取引が全体の%.1f%%を占めています。", pct),
			DescriptionEN: fmt.Sprintf("Off-hours (1-5 AM) transactions account for %.1f%% of total activity.", pct),
		})
	}

	if v, f := a.Velocity, a.Frequency; v != nil && f != nil && f.TotalTransactions > 0 {
		ratio := float64(v.RapidCount) / float64(f.TotalTransactions)
		if ratio > RapidRatioThreshold {
			sev := models.RiskMedium
			if ratio > 0.5 {
				sev = models.RiskHigh
			}
			mins := v.AverageIntervalMinutes()
			evidence := make([]string, 0, len(v.RapidSteps))
			for _, s := range v.RapidSteps {
				evidence = append(evidence, s.ToTx)
			}
			out = append(out, models.Anomaly{
				Type:          models.AnomalyRapidMovement,
				Severity:      sev,
				Ratio:         ratio,
				Count:         v.RapidCount,
				Evidence:      evidence,
				DescriptionJA: fmt.Sprintf("受取後%.1f分以内の高速転送が%d件検出されました。", mins, v.RapidCount),
				DescriptionEN: fmt.Sprintf("Detected %d rapid transfers within %.1f minutes of receipt.", v.RapidCount, mins),
			})
		}
	}

	bursts := 0
	peak := 0.0
	for _, p := range a.ActivityPeriods {
		if p.Intensity > BurstIntensityThreshold {
			bursts++
			if p.Intensity > peak {
				peak = p.Intensity
			}
		}
	}
	if bursts > 0 {
		out = append(out, models.Anomaly{
			Type:          models.AnomalyBurstActivity,
			Severity:      models.RiskMedium,
			Count:         bursts,
			Intensity:     peak,
			DescriptionJA: fmt.Sprintf("%d回の集中的な取引バースト（毎分5件以上）が検出されました。", bursts),
			DescriptionEN: fmt.Sprintf("Detected %d intense transaction bursts (>5 txs/minute).", bursts),
		})
	}

	return out
}
