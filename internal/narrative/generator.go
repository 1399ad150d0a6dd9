package narrative

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/timeline"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Narrative Generator Module
//
// Turns the structured results of one analysis into a readable report in
// Japanese or English. Every section is drawn from the template table, and
// sections with nothing to say are left out:
//
//	opening → overview → patterns → anomalies → flow → risk → conclusion
//
// Which phrasing a section uses is up to the configured Selector.

// DefaultCurrency labels amounts when no currency is configured.
const DefaultCurrency = "ETH"

// maxListedIntermediaries bounds how many relay addresses a layering line names.
const maxListedIntermediaries = 3

// patternSections maps pattern ids onto template sections where they differ.
var patternSections = map[string]string{
	"circular_trading": "circular",
}

// Input is everything the generator reads. Timeline and Flow are expected
// to be computed from Transactions by the caller.
type Input struct {
	Address      string
	Transactions []models.Transaction
	Patterns     []models.PatternMatch
	Anomalies    []models.Anomaly
	Risk         models.RiskAssessment
	Timeline     timeline.Analysis
	Flow         graph.FlowAnalysis
	Language     string
}

// Generator renders narratives, key findings and timeline events.
type Generator struct {
	templates *catalog.Templates
	patterns  *catalog.PatternCatalog
	selector  Selector
	currency  string
	mixers    map[string]bool
	logger    *zap.Logger
}

// Option customizes a Generator.
type Option func(*Generator)

// WithSelector sets the phrasing strategy. The default is HashSelector.
func WithSelector(s Selector) Option {
	return func(g *Generator) {
		if s != nil {
			g.selector = s
		}
	}
}

// WithCurrency sets the label printed after amounts.
func WithCurrency(c string) Option {
	return func(g *Generator) {
		if c != "" {
			g.currency = strings.ToUpper(c)
		}
	}
}

// NewGenerator builds a generator. A nil pattern catalog falls back to the
// embedded one; templates are mandatory.
func NewGenerator(t *catalog.Templates, cat *catalog.PatternCatalog, logger *zap.Logger, opts ...Option) (*Generator, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil template table", catalog.ErrInvalidTemplates)
	}
	if cat == nil {
		def, err := catalog.DefaultPatterns()
		if err != nil {
			return nil, err
		}
		cat = def
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{
		templates: t,
		patterns:  cat,
		selector:  HashSelector{},
		currency:  DefaultCurrency,
		mixers:    make(map[string]bool),
		logger:    logger.Named("narrative"),
	}
	for _, m := range cat.KnownMixers() {
		g.mixers[m] = true
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ErrEmptySection is returned by Render when the table has no phrasing.
var ErrEmptySection = errors.New("template section has no phrasings")

// Language normalizes a requested language, falling back to English.
func Language(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case catalog.LangJA:
		return catalog.LangJA
	default:
		return catalog.LangEN
	}
}

// Render picks one phrasing of a section and fills its placeholders.
func (g *Generator) Render(lang, section, address string, values map[string]string) (string, error) {
	options := g.templates.Section(lang, section)
	if len(options) == 0 {
		return "", fmt.Errorf("%w: %s/%s", ErrEmptySection, lang, section)
	}
	i := g.selector.Select(address, section, len(options))
	if i < 0 || i >= len(options) {
		i = 0
	}
	return fill(options[i], values), nil
}

func (g *Generator) render(lang, section, address string, values map[string]string) string {
	s, err := g.Render(lang, section, address, values)
	if err != nil {
		g.logger.Warn("missing template", zap.String("lang", lang), zap.String("section", section))
		return ""
	}
	return s
}

// Generate renders the full narrative.
func (g *Generator) Generate(in Input) string {
	lang := Language(in.Language)
	addr := models.NormalizeAddress(in.Address)

	if len(in.Transactions) == 0 {
		return g.render(lang, "no_transactions", addr, map[string]string{"address": FormatAddress(addr)})
	}

	sections := []string{
		g.opening(lang, addr, in),
		g.overview(lang, addr, in),
		g.patternsSection(lang, addr, in.Patterns),
		g.anomaliesSection(lang, addr, in.Anomalies),
		g.flowSection(lang, addr, in.Flow),
		g.riskSection(lang, addr, in),
		g.conclusion(lang, addr, in),
	}
	out := sections[:0]
	for _, s := range sections {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}

// ─── Sections ───────────────────────────────────────────────────────

func (g *Generator) opening(lang, addr string, in Input) string {
	ts := "Recently"
	if lang == catalog.LangJA {
		ts = "最近"
	}
	if in.Timeline.TimeSpan != nil {
		ts = FormatTimestamp(lang, in.Timeline.TimeSpan.First)
	}
	return g.render(lang, "opening", addr, map[string]string{
		"timestamp": ts,
		"address":   FormatAddress(addr),
	})
}

func (g *Generator) overview(lang, addr string, in Input) string {
	total := decimal.Zero
	for _, tx := range in.Transactions {
		total = total.Add(tx.Value)
	}
	text := g.render(lang, "overview", addr, map[string]string{
		"transaction_count": strconv.Itoa(len(in.Transactions)),
		"total_amount":      FormatAmount(total),
		"currency":          g.currency,
	})

	span := in.Timeline.TimeSpan
	if span != nil && span.DurationDays > 0 {
		avg := 0.0
		if in.Timeline.Frequency != nil {
			avg = in.Timeline.Frequency.AverageDaily
		}
		period := g.render(lang, "overview_period", addr, map[string]string{
			"duration_days": formatFloat(span.DurationDays, 1),
			"avg_daily":     formatFloat(avg, 1),
		})
		text = joinSentences(lang, text, period)
	}
	return text
}

func (g *Generator) patternsSection(lang, addr string, patterns []models.PatternMatch) string {
	var lines []string
	for _, p := range patterns {
		if line := g.patternLine(lang, addr, p); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	header := g.render(lang, "patterns_header", addr, nil)
	return header + "\n" + strings.Join(lines, "\n")
}

func (g *Generator) patternLine(lang, addr string, p models.PatternMatch) string {
	section := p.PatternID
	if s, ok := patternSections[section]; ok {
		section = s
	}

	values := map[string]string{
		"transaction_count": strconv.Itoa(p.TransactionCount),
		"total_amount":      FormatAmount(p.TotalAmount),
		"currency":          g.currency,
		"timeframe":         FormatTimeframe(g.templates, lang, p.TimeframeSeconds),
	}
	switch p.PatternID {
	case "smurfing":
		values["avg_amount"] = formatFloat(p.Evidence.AverageAmount, 4)
	case "layering":
		values["intermediary_count"] = strconv.Itoa(max(p.HopCount-1, 0))
		values["intermediaries"] = FormatAddresses(intermediaries(p), maxListedIntermediaries)
	case "mixing":
		values["mixer_addresses"] = FormatAddresses(p.Evidence.Addresses, len(p.Evidence.Addresses))
	case "structuring":
		values["threshold"] = strconv.FormatFloat(p.Threshold, 'f', -1, 64)
	case "circular_trading":
		values["hop_count"] = strconv.Itoa(p.HopCount)
	case "rapid_movement":
		values["occurrences"] = strconv.Itoa(p.TransactionCount)
		values["minutes"] = formatFloat(averageDelayMinutes(p.Evidence.Movements), 0)
	case "dusting":
		values["recipient_count"] = strconv.Itoa(p.AddressesCount)
	case "peel_chain":
		values["peel_count"] = strconv.Itoa(p.TransactionCount)
	default:
		g.logger.Debug("no narrative for pattern", zap.String("pattern", p.PatternID))
		return ""
	}
	return g.render(lang, section, addr, values)
}

// intermediaries drops the first and last endpoint of a layering chain.
// Endpoints may be capped, in which case the tail is already gone.
func intermediaries(p models.PatternMatch) []string {
	addrs := p.Evidence.Addresses
	if len(addrs) < 2 {
		return nil
	}
	end := min(len(addrs), p.HopCount)
	if end <= 1 {
		return nil
	}
	return addrs[1:end]
}

func averageDelayMinutes(moves []models.Movement) float64 {
	if len(moves) == 0 {
		return 0
	}
	total := 0.0
	for _, m := range moves {
		total += m.TimeDiffSec
	}
	return total / float64(len(moves)) / 60
}

func (g *Generator) anomaliesSection(lang, addr string, anomalies []models.Anomaly) string {
	if len(anomalies) == 0 {
		return ""
	}
	lines := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		if line := g.anomalyLine(lang, addr, a); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return g.render(lang, "anomalies_header", addr, nil) + "\n" + strings.Join(lines, "\n")
}

func (g *Generator) anomalyLine(lang, addr string, a models.Anomaly) string {
	values := map[string]string{
		"amount":       formatFloat(a.Amount, 4),
		"currency":     g.currency,
		"z_score":      formatFloat(math.Abs(a.ZScore), 2),
		"date":         a.Date,
		"count":        strconv.Itoa(a.Count),
		"ratio":        formatFloat(a.Ratio*100, 1),
		"counterparty": FormatAddress(a.Counterparty),
	}
	switch a.Type {
	case models.AnomalyAmount, models.AnomalyFrequency, models.AnomalyTimePattern,
		models.AnomalyConcentration, models.AnomalyOneTimeLarge:
		return g.render(lang, string(a.Type), addr, values)
	}
	if lang == catalog.LangJA {
		return a.DescriptionJA
	}
	return a.DescriptionEN
}

func (g *Generator) flowSection(lang, addr string, flow graph.FlowAnalysis) string {
	if !flow.Suspicious || len(flow.MainPaths) == 0 {
		return ""
	}
	top := flow.MainPaths[0]
	text := g.render(lang, "flow", addr, map[string]string{
		"total_amount": FormatAmount(top.TotalAmount),
		"currency":     g.currency,
		"hop_count":    strconv.Itoa(top.HopCount),
	})
	switch flow.PatternType {
	case graph.FlowComplex:
		text = joinSentences(lang, text, g.render(lang, "flow_complex", addr, nil))
	case graph.FlowModerate:
		text = joinSentences(lang, text, g.render(lang, "flow_moderate", addr, nil))
	}
	return text
}

func (g *Generator) riskSection(lang, addr string, in Input) string {
	name := g.templates.PatternName(lang, "unknown")
	confidence := 0.0
	if p, ok := primaryPattern(in.Patterns); ok {
		name = g.templates.PatternName(lang, p.PatternID)
		confidence = p.Confidence
	}
	return g.render(lang, "risk_assessment", addr, map[string]string{
		"risk_level":   g.templates.RiskLevel(lang, string(in.Risk.RiskLevel)),
		"risk_score":   formatFloat(in.Risk.RiskScore, 1),
		"pattern_name": name,
		"confidence":   percent(confidence),
	})
}

func (g *Generator) conclusion(lang, addr string, in Input) string {
	switch {
	case in.Risk.RiskLevel == models.RiskCritical || in.Risk.RiskLevel == models.RiskHigh:
		return g.render(lang, "conclusion", addr, nil)
	case len(in.Patterns) > 0:
		options := g.templates.Section(lang, "conclusion")
		if len(options) > 0 {
			return options[0]
		}
		return ""
	default:
		return g.render(lang, "no_suspicious_activity", addr, nil)
	}
}

// primaryPattern returns the most confident match, the earliest on ties.
func primaryPattern(patterns []models.PatternMatch) (models.PatternMatch, bool) {
	if len(patterns) == 0 {
		return models.PatternMatch{}, false
	}
	best := patterns[0]
	for _, p := range patterns[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, true
}

// Japanese sentences end in "。" and join without spaces.
func joinSentences(lang string, parts ...string) string {
	sep := " "
	if lang == catalog.LangJA {
		sep = ""
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
