package heuristics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Rapid Pass-Through Detection
//
// A mule address forwards what it receives almost immediately. Every
// incoming transaction is paired with every outgoing one; a pair counts
// when the outgoing leg happens within (0, 5 min] after the incoming one
// and forwards at least 95% of the received amount. Both legs need a
// timestamp.

const (
	rapidMaxDelay      = 5 * time.Minute
	rapidMinForwarded  = 0.95
	rapidFullConf      = 3.0
	rapidMovementShown = 5
)

var rapidForwardRatio = decimal.NewFromFloat(rapidMinForwarded)

func detectRapidMovement(p catalog.Pattern, s *scan) *models.PatternMatch {
	var moves []models.Movement
	var outHashes []string
	occurrences := 0
	total := decimal.Zero
	seenTo := make(map[string]bool)

	for _, in := range s.incoming {
		if !in.HasTimestamp() {
			continue
		}
		floor := in.Value.Mul(rapidForwardRatio)
		for _, out := range s.outgoing {
			if !out.HasTimestamp() {
				continue
			}
			delay := out.Timestamp.Sub(in.Timestamp)
			if delay <= 0 || delay > rapidMaxDelay {
				continue
			}
			if out.Value.LessThan(floor) {
				continue
			}

			occurrences++
			total = total.Add(in.Value)
			seenTo[out.To] = true
			// Only the first pairs are kept as evidence; a dense window has in*out of them.
			if len(moves) < rapidMovementShown {
				moves = append(moves, models.Movement{
					InHash:      in.Hash,
					OutHash:     out.Hash,
					InAmount:    in.Value,
					OutAmount:   out.Value,
					TimeDiffSec: delay.Seconds(),
				})
			}
			if len(outHashes) < models.MaxEvidence {
				outHashes = append(outHashes, out.Hash)
			}
		}
	}
	if occurrences == 0 {
		return nil
	}

	m := newMatch(p, ratio(occurrences, rapidFullConf))
	m.TotalAmount = total
	m.TransactionCount = occurrences
	m.AddressesCount = len(seenTo)
	m.TimeframeSeconds = rapidMaxDelay.Seconds()
	m.Evidence = models.Evidence{
		TxHashes:  outHashes,
		Addresses: []string{s.address},
		Movements: moves,
	}
	return m
}
