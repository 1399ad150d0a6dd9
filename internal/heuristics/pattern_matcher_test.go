package heuristics

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/graph"
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

func newMatcher(t *testing.T, opts ...MatcherOption) *PatternMatcher {
	t.Helper()
	cat, err := catalog.DefaultPatterns()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	m, err := NewPatternMatcher(cat, nil, opts...)
	if err != nil {
		t.Fatalf("NewPatternMatcher: %v", err)
	}
	return m
}

func findMatch(matches []models.PatternMatch, id PatternID) *models.PatternMatch {
	for i := range matches {
		if matches[i].PatternID == string(id) {
			return &matches[i]
		}
	}
	return nil
}

func TestNewPatternMatcher_UnknownPattern(t *testing.T) {
	cat, err := catalog.ParsePatterns([]byte(`{"patterns":[
		{"id":"bogus","name":"Bogus","name_ja":"不明","name_en":"Bogus","risk_level":"low"}
	]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := NewPatternMatcher(cat, nil); !errors.Is(err, ErrUnknownPattern) {
		t.Fatalf("expected ErrUnknownPattern, got %v", err)
	}
	if _, err := NewPatternMatcher(nil, nil); err == nil {
		t.Fatal("nil catalog must be rejected")
	}
}

func TestDetect_Empty(t *testing.T) {
	if got := newMatcher(t).Detect(nil, target); len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
}

func TestDetect_Mixing(t *testing.T) {
	txs := []models.Transaction{
		tx("m1", target, mixer, "0.1", t0),
		tx("m2", target, mixer, "0.2", t0.Add(20*time.Minute)),
		tx("m3", target, mixer, "0.3", t0.Add(40*time.Minute)),
	}
	matches := newMatcher(t).Detect(txs, target)

	if len(matches) != 1 {
		t.Fatalf("expected exactly the mixing match, got %d: %+v", len(matches), matches)
	}
	m := matches[0]
	if m.PatternID != string(PatternMixing) || m.Confidence != 1.0 {
		t.Errorf("unexpected match %s conf %v", m.PatternID, m.Confidence)
	}
	if !m.TotalAmount.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("total = %s, want exactly 0.6", m.TotalAmount)
	}
	if m.RiskLevel != models.RiskCritical || m.TransactionCount != 3 {
		t.Errorf("risk %s count %d", m.RiskLevel, m.TransactionCount)
	}
	if len(m.Evidence.Addresses) != 1 || m.Evidence.Addresses[0] != mixer {
		t.Errorf("mixer evidence = %v", m.Evidence.Addresses)
	}
	if m.TimeframeSeconds != 2400 {
		t.Errorf("timeframe = %v", m.TimeframeSeconds)
	}
}

func TestDetect_MixingIncoming(t *testing.T) {
	txs := []models.Transaction{tx("in", mixer, target, "5", t0)}
	m := findMatch(newMatcher(t).Detect(txs, target), PatternMixing)
	if m == nil || m.Confidence != 1.0 {
		t.Fatalf("incoming mixer transfer should match, got %+v", m)
	}
}

func TestDetect_Smurfing(t *testing.T) {
	vals := []string{"0.05", "0.051", "0.049", "0.05", "0.052", "0.048", "0.05", "0.05", "0.051", "0.049", "0.05", "0.05"}
	var txs []models.Transaction
	for i, v := range vals {
		txs = append(txs, tx(fmt.Sprintf("s%d", i), target, fmt.Sprintf("r%02d", i), v, t0.Add(time.Duration(i)*4*time.Minute)))
	}
	m := findMatch(newMatcher(t).Detect(txs, target), PatternSmurfing)
	if m == nil {
		t.Fatal("expected smurfing match")
	}
	if m.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", m.Confidence)
	}
	if m.TransactionCount != 12 || m.AddressesCount != 12 || len(m.Evidence.TxHashes) != models.MaxEvidence {
		t.Errorf("unexpected counts %+v", m)
	}
}

func TestDetect_SmurfingRejectsMixedAmounts(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 12; i++ {
		v := "0.05"
		if i%2 == 0 {
			v = "0.9"
		}
		txs = append(txs, tx(fmt.Sprint(i), target, "r", v, t0.Add(time.Duration(i)*time.Minute)))
	}
	if findMatch(newMatcher(t).Detect(txs, target), PatternSmurfing) != nil {
		t.Error("high variation should not be smurfing")
	}
}

func TestDetect_Layering(t *testing.T) {
	hops := []string{target, "b", "c", "d", "e", "f"}
	var txs []models.Transaction
	for i := 0; i+1 < len(hops); i++ {
		txs = append(txs, tx(fmt.Sprintf("l%d", i), hops[i], hops[i+1], "2", t0.Add(time.Duration(i)*150*time.Minute)))
	}
	m := findMatch(newMatcher(t).Detect(txs, target), PatternLayering)
	if m == nil {
		t.Fatal("expected layering match")
	}
	if m.Confidence != 0.5 || m.HopCount != 5 || m.AddressesCount != 6 {
		t.Errorf("unexpected layering %+v", m)
	}
	if m.TimeframeSeconds != 10*3600 {
		t.Errorf("timeframe = %v, want 10h", m.TimeframeSeconds)
	}
}

func TestDetect_LayeringTooSlow(t *testing.T) {
	hops := []string{target, "b", "c", "d", "e", "f"}
	var txs []models.Transaction
	for i := 0; i+1 < len(hops); i++ {
		txs = append(txs, tx(fmt.Sprint(i), hops[i], hops[i+1], "1", t0.Add(time.Duration(i)*7*time.Hour)))
	}
	if findMatch(newMatcher(t).Detect(txs, target), PatternLayering) != nil {
		t.Error("a 28h chain is not layering")
	}
}

func TestDetect_Circular(t *testing.T) {
	txs := []models.Transaction{
		tx("c1", target, "b", "3", t0),
		tx("c2", "b", "c", "3", t0.Add(time.Hour)),
		tx("c3", "c", target, "3", t0.Add(3*time.Hour)),
	}
	matches := newMatcher(t).Detect(txs, target)
	m := findMatch(matches, PatternCircular)
	if m == nil {
		t.Fatal("expected circular trading match")
	}
	if m.Confidence != 0.5 || m.HopCount != 3 || !m.TotalAmount.Equal(decimal.NewFromInt(9)) {
		t.Errorf("unexpected circular %+v", m)
	}
	if findMatch(matches, PatternLayering) != nil {
		t.Error("a closing chain is not layering")
	}
}

func TestDetect_Structuring(t *testing.T) {
	txs := []models.Transaction{
		tx("x1", target, "p", "9.5", t0),
		tx("x2", target, "q", "9.2", t0.Add(20*24*time.Hour)),
		tx("x3", target, "q", "9.9", t0.Add(21*24*time.Hour)),
		tx("x4", target, "r", "9.0", t0.Add(23*24*time.Hour)),
		tx("x5", target, "s", "9.7", t0.Add(26*24*time.Hour)),
		tx("big", target, "s", "10", t0.Add(22*24*time.Hour)),
	}
	m := findMatch(newMatcher(t).Detect(txs, target), PatternStructuring)
	if m == nil {
		t.Fatal("expected structuring match")
	}
	if m.TransactionCount != 4 || m.Confidence != 0.8 || m.Threshold != 10 {
		t.Errorf("unexpected structuring %+v", m)
	}
	if m.Evidence.TxHashes[0] != "x2" {
		t.Errorf("first qualifying window should start at x2, got %v", m.Evidence.TxHashes)
	}

	btc := newMatcher(t, WithCurrency("btc"))
	if findMatch(btc.Detect(txs, target), PatternStructuring) != nil {
		t.Error("amounts near 10 are far above the BTC threshold")
	}
}

func TestDetect_RapidMovement(t *testing.T) {
	txs := []models.Transaction{
		tx("in1", "src", target, "1.0", t0),
		tx("out1", target, "dst", "0.98", t0.Add(2*time.Minute)),
		tx("in2", "src", target, "1.0", t0.Add(time.Hour)),
		tx("out2", target, "dst", "0.5", t0.Add(time.Hour+time.Minute)),
		tx("out3", target, "dst", "1.0", t0.Add(time.Hour+10*time.Minute)),
	}
	m := findMatch(newMatcher(t).Detect(txs, target), PatternRapidMovement)
	if m == nil {
		t.Fatal("expected rapid movement match")
	}
	if m.TransactionCount != 1 || len(m.Evidence.Movements) != 1 {
		t.Fatalf("expected one movement, got %+v", m.Evidence.Movements)
	}
	mv := m.Evidence.Movements[0]
	if mv.InHash != "in1" || mv.OutHash != "out1" || mv.TimeDiffSec != 120 {
		t.Errorf("movement = %+v", mv)
	}
	if m.Confidence != 1.0/3.0 {
		t.Errorf("confidence = %v", m.Confidence)
	}
}

func TestDetect_RapidMovementDenseWindow(t *testing.T) {
	const n = 1000
	txs := make([]models.Transaction, 0, 2*n)
	for i := 0; i < n; i++ {
		txs = append(txs, tx(fmt.Sprintf("in%d", i), fmt.Sprintf("src%d", i), target, "1", t0))
	}
	for i := 0; i < n; i++ {
		txs = append(txs, tx(fmt.Sprintf("out%d", i), target, fmt.Sprintf("dst%d", i), "1", t0.Add(time.Minute)))
	}

	m := findMatch(newMatcher(t).Detect(txs, target), PatternRapidMovement)
	if m == nil {
		t.Fatal("expected rapid movement match")
	}
	if m.TransactionCount != n*n {
		t.Errorf("TransactionCount = %d, want %d", m.TransactionCount, n*n)
	}
	if !m.TotalAmount.Equal(decimal.NewFromInt(n * n)) {
		t.Errorf("TotalAmount = %s", m.TotalAmount)
	}
	if m.AddressesCount != n {
		t.Errorf("AddressesCount = %d, want %d", m.AddressesCount, n)
	}
	if m.Confidence != 1 {
		t.Errorf("confidence = %v", m.Confidence)
	}
	if len(m.Evidence.Movements) != rapidMovementShown {
		t.Errorf("movements not capped: %d", len(m.Evidence.Movements))
	}
	if len(m.Evidence.TxHashes) != models.MaxEvidence {
		t.Errorf("tx hashes not capped: %d", len(m.Evidence.TxHashes))
	}
	if cap(m.Evidence.Movements) > 2*rapidMovementShown || cap(m.Evidence.TxHashes) > 2*models.MaxEvidence {
		t.Error("evidence slices grew past their caps")
	}
}

func TestDetect_Dusting(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 120; i++ {
		txs = append(txs, tx(fmt.Sprint(i), target, fmt.Sprintf("v%03d", i), "0.0005", t0.Add(time.Duration(i)*time.Hour)))
	}
	m := findMatch(newMatcher(t).Detect(txs, target), PatternDusting)
	if m == nil {
		t.Fatal("expected dusting match")
	}
	if m.Confidence != 0.6 || m.AddressesCount != 120 {
		t.Errorf("unexpected dusting %+v", m)
	}
	if !m.TotalAmount.Equal(decimal.RequireFromString("0.06")) {
		t.Errorf("total = %s", m.TotalAmount)
	}
}

func TestDetect_PeelChain(t *testing.T) {
	txs := []models.Transaction{
		tx("p5", target, "e", "4", t0.Add(5*24*time.Hour)),
		tx("p0", target, "a", "500", t0),
		tx("p1", target, "a", "5", t0.Add(24*time.Hour)),
		tx("p2", target, "b", "3", t0.Add(2*24*time.Hour)),
		tx("p3", target, "c", "2", t0.Add(3*24*time.Hour)),
		tx("p4", target, "d", "1", t0.Add(4*24*time.Hour)),
	}
	m := findMatch(newMatcher(t).Detect(txs, target), PatternPeelChain)
	if m == nil {
		t.Fatal("expected peel chain match")
	}
	if m.TransactionCount != 5 || m.Confidence != 0.5 {
		t.Errorf("unexpected peel chain %+v", m)
	}
	if m.Evidence.TxHashes[0] != "p1" || m.Evidence.TxHashes[4] != "p5" {
		t.Errorf("peels must be chronological: %v", m.Evidence.TxHashes)
	}
}

func TestDetect_DeterministicAndParallel(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 40; i++ {
		txs = append(txs, tx(fmt.Sprint(i), target, fmt.Sprintf("r%d", i%7), "0.05", t0.Add(time.Duration(i)*time.Minute)))
	}
	txs = append(txs, tx("mx", target, mixer, "1", t0), tx("back", "r3", target, "0.05", t0.Add(time.Minute)))

	seq := newMatcher(t)
	par := newMatcher(t, WithParallel(true))

	first := seq.Detect(txs, target)
	if len(first) == 0 {
		t.Fatal("expected some matches")
	}
	for i := 0; i < 5; i++ {
		if got := seq.Detect(txs, target); !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs from the first run", i)
		}
		if got := par.Detect(txs, target); !reflect.DeepEqual(first, got) {
			t.Fatalf("parallel run %d differs from sequential", i)
		}
	}
}

func TestDetect_AddressCaseInsensitive(t *testing.T) {
	txs := []models.Transaction{tx("m", target, mixer, "1", t0)}
	upper := "0xAAAA000000000000000000000000000000000001"
	if findMatch(newMatcher(t).Detect(txs, upper), PatternMixing) == nil {
		t.Error("address lookup should be case-insensitive")
	}
}

func TestDetectGraph_SharesChainSearch(t *testing.T) {
	hops := []string{target, "b", "c", "d", "e", "f"}
	var txs []models.Transaction
	for i := 0; i+1 < len(hops); i++ {
		txs = append(txs, tx(fmt.Sprintf("l%d", i), hops[i], hops[i+1], "2", t0.Add(time.Duration(i)*time.Hour)))
	}
	txs = append(txs,
		tx("c1", target, "x", "3", t0),
		tx("c2", "x", "y", "3", t0.Add(time.Hour)),
		tx("c3", "y", target, "3", t0.Add(2*time.Hour)))

	m := newMatcher(t)
	want := m.Detect(txs, target)
	if findMatch(want, PatternLayering) == nil || findMatch(want, PatternCircular) == nil {
		t.Fatalf("expected layering and circular matches, got %d matches", len(want))
	}

	g := graph.Build(txs)
	if got := m.DetectGraph(g, txs, target); !reflect.DeepEqual(want, got) {
		t.Errorf("DetectGraph = %+v, want %+v", got, want)
	}
	chains := m.Chains(g, target)
	if got := m.DetectChains(chains, txs, target); !reflect.DeepEqual(want, got) {
		t.Errorf("DetectChains = %+v, want %+v", got, want)
	}
	if got, want := graph.SummarizeFlow(chains), graph.AnalyzeFlow(g, target, graph.DefaultMaxHops); !reflect.DeepEqual(want, got) {
		t.Errorf("flow from shared chains = %+v, want %+v", got, want)
	}
}

func TestDetect_PanickingDetectorIsIsolated(t *testing.T) {
	broken := boundDetector{
		pattern: catalog.Pattern{ID: "broken"},
		detect: func(catalog.Pattern, *scan) *models.PatternMatch {
			panic("boom")
		},
	}
	if _, err := broken.run(&scan{}); !errors.Is(err, ErrDetectorPanic) {
		t.Fatalf("expected ErrDetectorPanic, got %v", err)
	}

	txs := []models.Transaction{tx("m", target, mixer, "1", t0)}
	for _, parallel := range []bool{false, true} {
		m := newMatcher(t, WithParallel(parallel))
		m.bound = append([]boundDetector{broken}, m.bound...)
		got := m.Detect(txs, target)
		if findMatch(got, PatternMixing) == nil {
			t.Errorf("parallel=%v: other detectors should still report", parallel)
		}
		for _, p := range got {
			if p.PatternID == "broken" {
				t.Errorf("parallel=%v: panicking detector produced a match", parallel)
			}
		}
	}
}
