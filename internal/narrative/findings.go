package narrative

import (
	"strconv"

	"github.com/rawblock/fundflow-engine/internal/timeline"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// MaxEvents caps the report timeline.
const MaxEvents = 100

// KeyFindings summarizes the analysis as short bullet lines: one per
// pattern, one for the anomaly count when non-zero, and the risk verdict.
func (g *Generator) KeyFindings(in Input) []string {
	lang := Language(in.Language)
	addr := models.NormalizeAddress(in.Address)

	if len(in.Transactions) == 0 {
		return []string{g.render(lang, "finding_no_history", addr, nil)}
	}

	findings := make([]string, 0, len(in.Patterns)+2)
	for _, p := range in.Patterns {
		label := g.patterns.ConfidenceLabel(p.Confidence)
		findings = append(findings, g.render(lang, "finding_pattern", addr, map[string]string{
			"pattern_name":     g.templates.PatternName(lang, p.PatternID),
			"confidence":       percent(p.Confidence),
			"confidence_label": g.templates.Confidence(lang, label),
		}))
	}
	if n := len(in.Anomalies); n > 0 {
		findings = append(findings, g.render(lang, "finding_anomalies", addr, map[string]string{
			"count": strconv.Itoa(n),
		}))
	}
	findings = append(findings, g.render(lang, "finding_risk", addr, map[string]string{
		"risk_level": g.templates.RiskLevel(lang, string(in.Risk.RiskLevel)),
		"risk_score": formatFloat(in.Risk.RiskScore, 1),
	}))
	return findings
}

// Events lists the dated transactions touching the address, oldest first,
// labelled by direction. Transfers with a known mixer are called out.
func (g *Generator) Events(in Input) []models.TimelineEvent {
	lang := Language(in.Language)
	addr := models.NormalizeAddress(in.Address)

	events := make([]models.TimelineEvent, 0)
	for _, tx := range timeline.Chronological(in.Transactions) {
		if tx.From != addr && tx.To != addr {
			continue
		}
		peer := tx.Counterparty(addr)

		section := "event_outgoing"
		switch {
		case g.mixers[peer]:
			section = "event_mixer"
		case tx.To == addr && tx.From != addr:
			section = "event_incoming"
		}
		events = append(events, models.TimelineEvent{
			Timestamp: tx.Timestamp,
			Event:     g.render(lang, section, addr, map[string]string{"counterparty": FormatAddress(peer)}),
			Amount:    tx.Value,
			TxHash:    tx.Hash,
		})
		if len(events) == MaxEvents {
			break
		}
	}
	return events
}
