package analysis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/heuristics"
	"github.com/rawblock/fundflow-engine/internal/narrative"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

const (
	target = "0xaaaa000000000000000000000000000000000001"
	mixer  = "0x722122df12d4e14e13ac3b6895a86e84145b6967"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func tx(hash, from, to, value string, at time.Time) models.Transaction {
	return models.Transaction{
		Hash:      hash,
		From:      from,
		To:        to,
		Value:     decimal.RequireFromString(value),
		Timestamp: at,
	}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cat, err := catalog.DefaultPatterns()
	require.NoError(t, err)
	tpl, err := catalog.DefaultTemplates()
	require.NoError(t, err)
	e, err := New(cfg, cat, tpl, nil,
		WithClock(func() time.Time { return t0.Add(time.Hour) }),
		WithSelector(narrative.FirstSelector{}))
	require.NoError(t, err)
	return e
}

func mixingHistory() []models.Transaction {
	return []models.Transaction{
		tx("m1", target, mixer, "0.1", t0),
		tx("m2", target, mixer, "0.2", t0.Add(20*time.Minute)),
		tx("m3", target, mixer, "0.3", t0.Add(40*time.Minute)),
	}
}

func TestNew_RequiresCatalogAndTemplates(t *testing.T) {
	tpl, err := catalog.DefaultTemplates()
	require.NoError(t, err)
	_, err = New(Config{}, nil, tpl, nil)
	assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)

	cat, err := catalog.DefaultPatterns()
	require.NoError(t, err)
	_, err = New(Config{}, cat, nil, nil)
	assert.ErrorIs(t, err, catalog.ErrInvalidTemplates)
}

func TestAnalyze_EmptyHistory(t *testing.T) {
	e := newEngine(t, Config{})
	r, err := e.Analyze(context.Background(), Request{Address: strings.ToUpper(target)})
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "en", r.Language)
	assert.Zero(t, r.TransactionCount)
	assert.Empty(t, r.Patterns)
	assert.NotNil(t, r.Patterns)
	assert.Empty(t, r.Anomalies)
	assert.Equal(t, 50.0, r.RiskAssessment.RiskScore)
	assert.Equal(t, models.RiskMedium, r.RiskAssessment.RiskLevel)
	assert.Equal(t, graph.FlowNone, r.Flow.PatternType)
	assert.Equal(t, []string{"No transaction history"}, r.KeyFindings)
	assert.True(t, strings.HasPrefix(r.Narrative, "No transactions were found"), r.Narrative)
}

func TestAnalyze_EmptyHistoryJapanese(t *testing.T) {
	e := newEngine(t, Config{})
	r, err := e.Analyze(context.Background(), Request{Address: target, Language: "ja"})
	require.NoError(t, err)
	assert.Equal(t, "ja", r.Language)
	assert.Equal(t, []string{"取引履歴なし"}, r.KeyFindings)
}

func TestAnalyze_MixingScenario(t *testing.T) {
	e := newEngine(t, Config{ParallelPatterns: true})
	r, err := e.Analyze(context.Background(), Request{Address: target, Transactions: mixingHistory()})
	require.NoError(t, err)

	require.Len(t, r.Patterns, 1)
	p := r.Patterns[0]
	assert.Equal(t, "mixing", p.PatternID)
	assert.Equal(t, 1.0, p.Confidence)
	assert.True(t, p.TotalAmount.Equal(decimal.RequireFromString("0.6")))

	assert.Equal(t, 3, r.TransactionCount)
	assert.Equal(t, t0.Add(time.Hour), r.GeneratedAt)
	assert.Equal(t, 3, r.Timeline.TransactionCount)
	assert.Equal(t, 2, r.Graph.NodeCount)
	assert.GreaterOrEqual(t, r.RiskAssessment.Breakdown[models.FactorPattern].Contribution, 17.5)
	assert.Equal(t, 1, r.RiskAssessment.PatternCount)

	assert.Contains(t, r.Narrative, "[Detected Patterns]")
	assert.Contains(t, r.Narrative, "mixing services (0x7221...6967)")
	assert.Equal(t, "Detected mixing (100% confidence, high confidence)", r.KeyFindings[0])
	require.Len(t, r.Events, 3)
	assert.Equal(t, "Interaction with mixer 0x7221...6967", r.Events[0].Event)
}

func hopChain(hops int) []models.Transaction {
	addrs := []string{target}
	for i := 1; i <= hops; i++ {
		addrs = append(addrs, fmt.Sprintf("0xbbbb%036d", i))
	}
	txs := make([]models.Transaction, 0, hops)
	for i := 0; i < hops; i++ {
		txs = append(txs, tx(fmt.Sprintf("h%d", i), addrs[i], addrs[i+1], "1", t0.Add(time.Duration(i)*time.Hour)))
	}
	return txs
}

func findPattern(ps []models.PatternMatch, id heuristics.PatternID) *models.PatternMatch {
	for i := range ps {
		if ps[i].PatternID == string(id) {
			return &ps[i]
		}
	}
	return nil
}

func TestAnalyze_MaxHopsBoundsFlowAndPatterns(t *testing.T) {
	txs := hopChain(6)

	r, err := newEngine(t, Config{}).Analyze(context.Background(), Request{Address: target, Transactions: txs})
	require.NoError(t, err)
	require.Len(t, r.Flow.MainPaths, 1)
	assert.Equal(t, 6, r.Flow.MainPaths[0].HopCount)
	assert.Equal(t, graph.FlowComplex, r.Flow.PatternType)
	layering := findPattern(r.Patterns, heuristics.PatternLayering)
	require.NotNil(t, layering)
	assert.Equal(t, 6, layering.HopCount)

	r, err = newEngine(t, Config{MaxHops: 4}).Analyze(context.Background(), Request{Address: target, Transactions: txs})
	require.NoError(t, err)
	require.Len(t, r.Flow.MainPaths, 1)
	assert.Equal(t, 4, r.Flow.MainPaths[0].HopCount)
	assert.Equal(t, graph.FlowModerate, r.Flow.PatternType)
	assert.Nil(t, findPattern(r.Patterns, heuristics.PatternLayering))
}

func TestAnalyze_IDsAreUnique(t *testing.T) {
	e := newEngine(t, Config{})
	a, err := e.Analyze(context.Background(), Request{Address: target, Transactions: mixingHistory()})
	require.NoError(t, err)
	b, err := e.Analyze(context.Background(), Request{Address: target, Transactions: mixingHistory()})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Narrative, b.Narrative)
	assert.Equal(t, a.RiskAssessment.RiskScore, b.RiskAssessment.RiskScore)
}

func TestAnalyze_Cancelled(t *testing.T) {
	e := newEngine(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Analyze(ctx, Request{Address: target, Transactions: mixingHistory()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLanguage(t *testing.T) {
	e := newEngine(t, Config{DefaultLanguage: "ja"})
	assert.Equal(t, "ja", e.Language(""))
	assert.Equal(t, "en", e.Language("en"))
	assert.Equal(t, "en", e.Language("de"))
}

func TestDetectAnomaliesAndRisk(t *testing.T) {
	e := newEngine(t, Config{})
	var txs []models.Transaction
	for i := 0; i < 19; i++ {
		txs = append(txs, tx(fmt.Sprint(i), target, "0xbbbb", "1", time.Time{}))
	}
	txs = append(txs, tx("outlier", target, "0xbbbb", "100", time.Time{}))
	req := Request{Address: target, Transactions: txs}

	res, err := e.DetectAnomalies(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, models.AnomalyAmount, res.Anomalies[0].Type)
	assert.Equal(t, 7.5, res.Score)
	assert.Empty(t, res.TemporalAnomalies)

	risk, err := e.AssessRisk(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, risk.Assessment.AnomalyCount)
	assert.Equal(t, heuristics.LevelFor(risk.Assessment.RiskScore), risk.Assessment.RiskLevel)
}
