package heuristics

import (
	"time"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Structuring Detection
//
// Structuring keeps each payment just under a reporting threshold. A
// payout is suspicious when its amount falls in [0.9×T, T), T being the
// catalog threshold for the configured currency (10.0 if unset). The
// pattern needs at least three suspicious payouts inside one 7-day window;
// windows are anchored on each dated suspicious payout in time order and
// the earliest qualifying window wins.

const (
	structuringDefaultThreshold = 10.0
	structuringBand             = 0.9
	structuringMinCount         = 3
	structuringWindow           = 7 * 24 * time.Hour
	structuringFullConf         = 5.0
)

func detectStructuring(p catalog.Pattern, s *scan) *models.PatternMatch {
	threshold, ok := p.ReportingThresholds[s.currency]
	if !ok || threshold <= 0 {
		threshold = structuringDefaultThreshold
	}
	lo := structuringBand * threshold

	var suspicious []models.Transaction
	for _, tx := range s.outgoing {
		if !tx.HasTimestamp() {
			continue
		}
		if v := tx.Amount(); v >= lo && v < threshold {
			suspicious = append(suspicious, tx)
		}
	}
	if len(suspicious) < structuringMinCount {
		return nil
	}
	suspicious = chronological(suspicious)

	for i := range suspicious {
		end := suspicious[i].Timestamp.Add(structuringWindow)
		j := i
		for j < len(suspicious) && !suspicious[j].Timestamp.After(end) {
			j++
		}
		window := suspicious[i:j]
		if len(window) < structuringMinCount {
			continue
		}

		m := newMatch(p, ratio(len(window), structuringFullConf))
		m.TotalAmount = sumValues(window)
		m.TransactionCount = len(window)
		m.AddressesCount = len(uniqueRecipients(window))
		m.Threshold = threshold
		m.TimeframeSeconds = datedSpan(window).Seconds()
		m.Evidence = models.Evidence{
			TxHashes:  hashes(window),
			Addresses: capStrings(uniqueRecipients(window)),
			Amounts:   valuesOf(window),
		}
		return m
	}
	return nil
}

// datedSpan is the distance between the earliest and latest dated
// transaction, zero when fewer than two carry a timestamp.
func datedSpan(txs []models.Transaction) time.Duration {
	var first, last time.Time
	n := 0
	for _, tx := range txs {
		if !tx.HasTimestamp() {
			continue
		}
		if n == 0 || tx.Timestamp.Before(first) {
			first = tx.Timestamp
		}
		if n == 0 || tx.Timestamp.After(last) {
			last = tx.Timestamp
		}
		n++
	}
	if n < 2 {
		return 0
	}
	return last.Sub(first)
}
