package heuristics

import (
	"sort"
	"time"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Smurfing Detection
//
// Smurfing splits one large transfer into many small ones so that no
// single payment crosses a monitoring threshold. The signature is a burst
// of outgoing payments that are both small and uniform:
//
//   - at least 10 payouts inside one clock hour
//   - every amount strictly below one unit
//   - coefficient of variation (stdev/mean) below 0.3
//
// Buckets are scanned in chronological order and the first qualifying
// bucket wins.

const (
	smurfMinCount = 10
	smurfMaxValue = 1.0
	smurfMaxCV    = 0.3
	smurfFullConf = 20.0
)

func detectSmurfing(p catalog.Pattern, s *scan) *models.PatternMatch {
	buckets := make(map[time.Time][]models.Transaction)
	for _, tx := range s.outgoing {
		if !tx.HasTimestamp() {
			continue
		}
		hour := tx.Timestamp.Truncate(time.Hour)
		buckets[hour] = append(buckets[hour], tx)
	}

	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	for _, h := range hours {
		txs := buckets[h]
		if len(txs) < smurfMinCount {
			continue
		}

		vals := amounts(txs)
		small := true
		for _, v := range vals {
			if v >= smurfMaxValue {
				small = false
				break
			}
		}
		if !small {
			continue
		}

		mean := stats.Mean(vals)
		variance := stats.PVariance(vals)
		if mean > 0 && stats.PStdev(vals)/mean >= smurfMaxCV {
			continue
		}

		m := newMatch(p, ratio(len(txs), smurfFullConf))
		m.TotalAmount = sumValues(txs)
		m.TransactionCount = len(txs)
		m.AddressesCount = len(uniqueRecipients(txs))
		m.TimeframeSeconds = time.Hour.Seconds()
		m.Evidence = models.Evidence{
			TxHashes:      hashes(txs),
			Addresses:     capStrings(uniqueRecipients(txs)),
			AverageAmount: mean,
			Variance:      variance,
		}
		return m
	}
	return nil
}
