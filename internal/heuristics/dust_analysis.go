package heuristics

import (
	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Dust Attack Detection Module
//
// Dusting is an active surveillance technique: the attacker sprays trace
// amounts over many addresses and waits for the recipients to spend them
// together with their real funds, which links otherwise unrelated
// addresses. On the sending side it shows up as many outgoing payments of
// at most 0.001 unit to at least 100 distinct recipients.
//
// References:
//   - de Balthasar & Hernandez-Castro, "An Analysis of Bitcoin Laundry Services" (2017)
//   - Biryukov et al., "Deanonymisation of Clients in Bitcoin P2P Network" (CCS 2014)

const (
	dustMinRecipients = 100
	dustFullConf      = 200.0
)

// DustThreshold is the largest amount treated as dust.
var DustThreshold = decimal.New(1, -3)

func detectDusting(p catalog.Pattern, s *scan) *models.PatternMatch {
	var dust []models.Transaction
	for _, tx := range s.outgoing {
		if tx.Value.LessThanOrEqual(DustThreshold) {
			dust = append(dust, tx)
		}
	}
	recipients := uniqueRecipients(dust)
	if len(recipients) < dustMinRecipients {
		return nil
	}

	m := newMatch(p, ratio(len(recipients), dustFullConf))
	m.TotalAmount = sumValues(dust)
	m.TransactionCount = len(dust)
	m.AddressesCount = len(recipients)
	m.TimeframeSeconds = datedSpan(dust).Seconds()
	m.Evidence = models.Evidence{
		TxHashes:      hashes(dust),
		Addresses:     capStrings(recipients),
		AverageAmount: stats.Mean(amounts(dust)),
	}
	return m
}
