package heuristics

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Pattern Matching Module
//
// Evaluates the laundering pattern catalog against one address's history.
// Every catalog entry is bound to exactly one detector through the
// detectors table below; a catalog that names a pattern without a
// detector is rejected when the matcher is built, not silently skipped.
//
//   smurfing          many small similar payouts inside one clock hour
//   layering          a long simple chain completed within a day
//   mixing            any contact with a known mixer contract
//   structuring       repeated payouts just under a reporting threshold
//   circular_trading  a chain that returns to the origin within two days
//   rapid_movement    received funds forwarded within five minutes
//   dusting           trace amounts sprayed over many recipients
//   peel_chain        successive small withdrawals from one balance
//
// Detectors are pure and return at most one match: the first qualifying
// instance in a deterministic scan order. The chain-based detectors share
// one bounded chain search per call.

// ErrUnknownPattern is returned when the catalog names a pattern with no detector.
var ErrUnknownPattern = errors.New("unknown pattern id")

// ErrDetectorPanic wraps a panic raised inside a single detector.
var ErrDetectorPanic = errors.New("pattern detector panicked")

// PatternID identifies a detector.
type PatternID string

const (
	PatternSmurfing      PatternID = "smurfing"
	PatternLayering      PatternID = "layering"
	PatternMixing        PatternID = "mixing"
	PatternStructuring   PatternID = "structuring"
	PatternCircular      PatternID = "circular_trading"
	PatternRapidMovement PatternID = "rapid_movement"
	PatternDusting       PatternID = "dusting"
	PatternPeelChain     PatternID = "peel_chain"
)

// detectFunc inspects one precomputed scan and returns nil when the
// pattern is absent.
type detectFunc func(p catalog.Pattern, s *scan) *models.PatternMatch

var detectors = map[PatternID]detectFunc{
	PatternSmurfing:      detectSmurfing,
	PatternLayering:      detectLayering,
	PatternMixing:        detectMixing,
	PatternStructuring:   detectStructuring,
	PatternCircular:      detectCircular,
	PatternRapidMovement: detectRapidMovement,
	PatternDusting:       detectDusting,
	PatternPeelChain:     detectPeelChain,
}

// DefaultCurrency picks the structuring threshold when none is configured.
const DefaultCurrency = "ETH"

// scan is the per-call input shared by every detector. Nothing in it is
// written once the detectors start.
type scan struct {
	address  string
	currency string
	txs      []models.Transaction
	outgoing []models.Transaction
	incoming []models.Transaction
	chains   []graph.Chain
}

// MatcherOption customizes a PatternMatcher.
type MatcherOption func(*PatternMatcher)

// WithMaxHops bounds chain length for the chain-based detectors.
func WithMaxHops(n int) MatcherOption {
	return func(m *PatternMatcher) {
		if n > 0 {
			m.maxHops = n
		}
	}
}

// WithMaxExpansions caps the partial chains explored per call.
func WithMaxExpansions(n int) MatcherOption {
	return func(m *PatternMatcher) {
		if n > 0 {
			m.maxExpansions = n
		}
	}
}

// WithCurrency selects which reporting threshold structuring uses.
func WithCurrency(currency string) MatcherOption {
	return func(m *PatternMatcher) {
		if currency != "" {
			m.currency = strings.ToUpper(currency)
		}
	}
}

// WithParallel runs the detectors concurrently. Output order is unchanged.
func WithParallel(on bool) MatcherOption {
	return func(m *PatternMatcher) { m.parallel = on }
}

type boundDetector struct {
	pattern catalog.Pattern
	detect  detectFunc
}

// PatternMatcher runs the catalog's detectors. It is safe for concurrent use.
type PatternMatcher struct {
	catalog       *catalog.PatternCatalog
	bound         []boundDetector
	maxHops       int
	maxExpansions int
	currency      string
	parallel      bool
	logger        *zap.Logger
}

// NewPatternMatcher binds every catalog entry to its detector.
func NewPatternMatcher(cat *catalog.PatternCatalog, logger *zap.Logger, opts ...MatcherOption) (*PatternMatcher, error) {
	if cat == nil {
		return nil, fmt.Errorf("pattern matcher: %w", catalog.ErrInvalidCatalog)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &PatternMatcher{
		catalog:       cat,
		maxHops:       graph.DefaultMaxHops,
		maxExpansions: graph.DefaultMaxExpansions,
		currency:      DefaultCurrency,
		logger:        logger.Named("patterns"),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, p := range cat.Patterns {
		fn, ok := detectors[PatternID(p.ID)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, p.ID)
		}
		m.bound = append(m.bound, boundDetector{pattern: p, detect: fn})
	}
	return m, nil
}

// Catalog returns the catalog the matcher was built from.
func (m *PatternMatcher) Catalog() *catalog.PatternCatalog {
	return m.catalog
}

// Detect returns every pattern found for address, in catalog order.
func (m *PatternMatcher) Detect(txs []models.Transaction, address string) []models.PatternMatch {
	return m.DetectGraph(nil, txs, address)
}

// DetectGraph is Detect over a graph the caller already built from txs.
// A nil g is built on demand.
func (m *PatternMatcher) DetectGraph(g *graph.Graph, txs []models.Transaction, address string) []models.PatternMatch {
	var chains []graph.Chain
	if m.needsChains() {
		if g == nil {
			g = graph.Build(txs)
		}
		chains = m.Chains(g, address)
	}
	return m.DetectChains(chains, txs, address)
}

// Chains runs the bounded chain search from address over g. Chains down to
// graph.MainPathMinHops hops are kept, so the result can also feed
// graph.SummarizeFlow.
func (m *PatternMatcher) Chains(g *graph.Graph, address string) []graph.Chain {
	address = models.NormalizeAddress(address)
	res := graph.NewChainFinder(g,
		graph.WithMaxExpansions(m.maxExpansions),
		graph.WithMinHops(graph.MainPathMinHops),
	).Search(address, m.maxHops)
	if res.Truncated {
		m.logger.Debug("chain search truncated",
			zap.String("address", address),
			zap.Int("expanded", res.Expanded),
			zap.Int("chains", len(res.Chains)))
	}
	return res.Chains
}

// DetectChains is Detect with the chain search already done by Chains.
func (m *PatternMatcher) DetectChains(chains []graph.Chain, txs []models.Transaction, address string) []models.PatternMatch {
	start := time.Now()
	s := newScan(txs, address, m.currency)
	s.chains = chains

	results := make([]*models.PatternMatch, len(m.bound))
	if m.parallel && len(m.bound) > 1 {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, b := range m.bound {
			i, b := i, b
			g.Go(func() error {
				r, err := b.run(s)
				results[i] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			m.logger.Warn("pattern detector failed", zap.String("address", s.address), zap.Error(err))
		}
	} else {
		for i, b := range m.bound {
			r, err := b.run(s)
			if err != nil {
				m.logger.Warn("pattern detector failed", zap.String("address", s.address), zap.Error(err))
			}
			results[i] = r
		}
	}

	matches := make([]models.PatternMatch, 0, len(results))
	for _, r := range results {
		if r != nil {
			matches = append(matches, *r)
		}
	}

	m.logger.Debug("pattern detection finished",
		zap.String("address", s.address),
		zap.Int("transactions", len(txs)),
		zap.Int("matches", len(matches)),
		zap.Duration("elapsed", time.Since(start)))
	return matches
}

// run isolates one detector; a panic drops only that pattern's result.
func (b boundDetector) run(s *scan) (r *models.PatternMatch, err error) {
	defer func() {
		if v := recover(); v != nil {
			r = nil
			err = fmt.Errorf("%w: %s: %v", ErrDetectorPanic, b.pattern.ID, v)
		}
	}()
	return b.detect(b.pattern, s), nil
}

func newScan(txs []models.Transaction, address, currency string) *scan {
	s := &scan{
		address:  models.NormalizeAddress(address),
		currency: currency,
		txs:      txs,
	}
	for _, tx := range txs {
		if tx.From == s.address {
			s.outgoing = append(s.outgoing, tx)
		}
		if tx.To == s.address {
			s.incoming = append(s.incoming, tx)
		}
	}
	return s
}

func (m *PatternMatcher) needsChains() bool {
	for _, b := range m.bound {
		switch PatternID(b.pattern.ID) {
		case PatternLayering, PatternCircular:
			return true
		}
	}
	return false
}

// ─── Shared helpers ───────────────────────────────────────────────────

func newMatch(p catalog.Pattern, confidence float64) *models.PatternMatch {
	return &models.PatternMatch{
		PatternID:     p.ID,
		Name:          p.Name,
		NameJA:        p.NameJA,
		NameEN:        p.NameEN,
		DescriptionJA: p.DescriptionJA,
		DescriptionEN: p.DescriptionEN,
		RiskLevel:     p.RiskLevel,
		Confidence:    confidence,
		TotalAmount:   decimal.Zero,
	}
}

func ratio(n int, full float64) float64 {
	return min(float64(n)/full, 1.0)
}

func sumValues(txs []models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Value)
	}
	return total
}

func amounts(txs []models.Transaction) []float64 {
	out := make([]float64, len(txs))
	for i, tx := range txs {
		out[i] = tx.Amount()
	}
	return out
}

func hashes(txs []models.Transaction) []string {
	n := min(len(txs), models.MaxEvidence)
	out := make([]string, 0, n)
	for _, tx := range txs[:n] {
		out = append(out, tx.Hash)
	}
	return out
}

func valuesOf(txs []models.Transaction) []decimal.Decimal {
	n := min(len(txs), models.MaxEvidence)
	out := make([]decimal.Decimal, 0, n)
	for _, tx := range txs[:n] {
		out = append(out, tx.Value)
	}
	return out
}

// uniqueRecipients counts distinct receivers in first-seen order.
func uniqueRecipients(txs []models.Transaction) []string {
	seen := make(map[string]bool, len(txs))
	var out []string
	for _, tx := range txs {
		if !seen[tx.To] {
			seen[tx.To] = true
			out = append(out, tx.To)
		}
	}
	return out
}

func capStrings(xs []string) []string {
	if len(xs) > models.MaxEvidence {
		return xs[:models.MaxEvidence]
	}
	return xs
}

// chronological orders txs by timestamp; undated ones sort first.
func chronological(txs []models.Transaction) []models.Transaction {
	out := append([]models.Transaction(nil), txs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
