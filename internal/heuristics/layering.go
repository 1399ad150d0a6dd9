package heuristics

import (
	"time"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Layering and Circular Trading
//
// Both detectors read the chains found from the target address.
//
// Layering pushes value through a run of fresh intermediaries:
//   - at least 5 hops
//   - no address appears twice anywhere along the chain
//   - first to last edge within 24 hours
//
// Circular trading brings value back to where it started:
//   - at least 3 hops
//   - the last edge pays the target address
//   - first to last edge within 48 hours
//
// A chain with any undated edge cannot prove either time bound and is
// skipped.

const (
	layeringMinHops  = 5
	layeringMaxSpan  = 24 * time.Hour
	layeringFullConf = 10.0

	circularMinHops  = 3
	circularMaxSpan  = 48 * time.Hour
	circularFullConf = 6.0
)

func detectLayering(p catalog.Pattern, s *scan) *models.PatternMatch {
	for _, c := range s.chains {
		if c.Hops() < layeringMinHops || c.Closes() {
			continue
		}
		span, ok := c.Span()
		if !ok || span > layeringMaxSpan {
			continue
		}
		endpoints := c.Endpoints()
		if !distinct(endpoints) {
			continue
		}

		m := newMatch(p, ratio(c.Hops(), layeringFullConf))
		fillChain(m, c, span)
		m.AddressesCount = len(endpoints)
		return m
	}
	return nil
}

func detectCircular(p catalog.Pattern, s *scan) *models.PatternMatch {
	for _, c := range s.chains {
		if c.Hops() < circularMinHops || !c.Closes() || c.Start() != s.address {
			continue
		}
		span, ok := c.Span()
		if !ok || span > circularMaxSpan {
			continue
		}

		m := newMatch(p, ratio(c.Hops(), circularFullConf))
		fillChain(m, c, span)
		m.AddressesCount = c.Hops()
		return m
	}
	return nil
}

func fillChain(m *models.PatternMatch, c graph.Chain, span time.Duration) {
	m.TotalAmount = c.TotalAmount()
	m.TransactionCount = c.Hops()
	m.HopCount = c.Hops()
	m.TimeframeSeconds = span.Seconds()
	m.Evidence = models.Evidence{
		TxHashes:  capStrings(c.TxHashes()),
		Addresses: capStrings(c.Endpoints()),
	}
}

func distinct(addrs []string) bool {
	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if seen[a] {
			return false
		}
		seen[a] = true
	}
	return true
}
