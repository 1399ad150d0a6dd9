package heuristics

import (
	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Peel Chain Detection Module
//
// A peel chain spends a large balance through a series of payments, each
// one "peeling" a slice off what remains:
//
//   balance → payment₁ (+ remainder)
//   remainder → payment₂ (+ remainder)
//   ...
//
// On an account-model history we only see the payouts, so the detector
// uses a proxy: in chronological order, every outgoing payment after the
// first whose amount lies in (0, 100) is a peel. Five or more peels form
// the pattern.
//
// References:
//   - Meiklejohn et al., "A Fistful of Bitcoins" (IMC 2013)
//   - Harrigan & Fretter, "The Unreasonable Effectiveness of Address Clustering" (IEEE 2016)

const (
	peelMinOutgoing = 5
	peelMinPeels    = 5
	peelFullConf    = 10.0
)

var peelMaxValue = decimal.NewFromInt(100)

func detectPeelChain(p catalog.Pattern, s *scan) *models.PatternMatch {
	if len(s.outgoing) < peelMinOutgoing {
		return nil
	}
	ordered := chronological(s.outgoing)

	var peels []models.Transaction
	for _, tx := range ordered[1:] {
		if tx.Value.IsPositive() && tx.Value.LessThan(peelMaxValue) {
			peels = append(peels, tx)
		}
	}
	if len(peels) < peelMinPeels {
		return nil
	}

	m := newMatch(p, ratio(len(peels), peelFullConf))
	m.TotalAmount = sumValues(peels)
	m.TransactionCount = len(peels)
	m.AddressesCount = len(uniqueRecipients(peels))
	m.TimeframeSeconds = datedSpan(peels).Seconds()
	m.Evidence = models.Evidence{
		TxHashes:  hashes(peels),
		Addresses: capStrings(uniqueRecipients(peels)),
		Amounts:   valuesOf(peels),
	}
	return m
}
