package heuristics

import (
	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Mixer Interaction
//
// Any transaction in either direction with a catalog-listed mixer is a
// definitive match: confidence is always 1.0 and the risk level comes
// straight from the catalog entry. The timeframe is the span of the
// dated mixer transactions.

func detectMixing(p catalog.Pattern, s *scan) *models.PatternMatch {
	if len(p.KnownMixers) == 0 {
		return nil
	}
	mixers := make(map[string]bool, len(p.KnownMixers))
	for _, a := range p.KnownMixers {
		mixers[a] = true
	}

	var hits []models.Transaction
	var touched []string
	seen := make(map[string]bool)
	for _, tx := range s.txs {
		var mixer string
		switch {
		case mixers[tx.To]:
			mixer = tx.To
		case mixers[tx.From]:
			mixer = tx.From
		default:
			continue
		}
		hits = append(hits, tx)
		if !seen[mixer] {
			seen[mixer] = true
			touched = append(touched, mixer)
		}
	}
	if len(hits) == 0 {
		return nil
	}

	m := newMatch(p, 1.0)
	m.TotalAmount = sumValues(hits)
	m.TransactionCount = len(hits)
	m.AddressesCount = len(uniqueRecipients(hits))
	m.TimeframeSeconds = datedSpan(hits).Seconds()
	m.Evidence = models.Evidence{
		TxHashes:  hashes(hits),
		Addresses: capStrings(touched),
	}
	return m
}
