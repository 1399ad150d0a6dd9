package graph

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func mkTx(hash, from, to, value string, offset time.Duration) models.Transaction {
	return models.Transaction{
		Hash:      hash,
		From:      from,
		To:        to,
		Value:     decimal.RequireFromString(value),
		Timestamp: base.Add(offset),
	}
}

func lineTxs(addrs ...string) []models.Transaction {
	var txs []models.Transaction
	for i := 0; i+1 < len(addrs); i++ {
		txs = append(txs, mkTx(fmt.Sprintf("t%d", i), addrs[i], addrs[i+1], "1", time.Duration(i)*2*time.Hour))
	}
	return txs
}

func assertSimple(t *testing.T, c Chain, maxHops int) {
	t.Helper()
	if c.Hops() > maxHops {
		t.Errorf("chain has %d hops, max %d", c.Hops(), maxHops)
	}
	eps := c.Endpoints()
	if c.Closes() {
		eps = eps[:len(eps)-1]
	}
	seen := make(map[string]bool)
	for _, a := range eps {
		if seen[a] {
			t.Errorf("address %q repeated in chain %v", a, c.Endpoints())
		}
		seen[a] = true
	}
	for i := 1; i < len(c.Edges); i++ {
		if c.Edges[i].From != c.Edges[i-1].To {
			t.Errorf("chain is not a walk at edge %d", i)
		}
	}
}

func TestBuild_CountsAndTotals(t *testing.T) {
	txs := []models.Transaction{
		mkTx("1", "a", "b", "1.5", 0),
		mkTx("2", "a", "c", "2", time.Minute),
		mkTx("3", "b", "a", "0.5", 2*time.Minute),
		mkTx("4", "c", "", "0.25", 3*time.Minute),
	}
	g := Build(txs)

	if got := len(g.Nodes()); got != 4 {
		t.Fatalf("expected 4 nodes (a, b, c, empty), got %d", got)
	}
	if len(g.Edges()) != len(txs) {
		t.Fatalf("edges must be 1:1 with transactions")
	}

	a := g.Node("a")
	if a.OutgoingCount != 2 || a.IncomingCount != 1 {
		t.Errorf("a counts = out %d / in %d", a.OutgoingCount, a.IncomingCount)
	}
	if !a.TotalSent.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("a sent = %s, want 3.5", a.TotalSent)
	}
	if !a.TotalReceived.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("a received = %s, want 0.5", a.TotalReceived)
	}
	if g.Node("") == nil || g.Node("").IncomingCount != 1 {
		t.Errorf("missing receiver should create a degenerate node")
	}
	if out := g.Outgoing("a"); len(out) != 2 || out[0].TxHash != "1" {
		t.Errorf("outgoing order not preserved: %+v", out)
	}

	s := g.Summary()
	if s.NodeCount != 4 || s.EdgeCount != 4 || !s.TotalVolume.Equal(decimal.RequireFromString("4.25")) {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestHubs(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 12; i++ {
		txs = append(txs, mkTx(fmt.Sprint(i), "hub", fmt.Sprintf("leaf%d", i), "1", 0))
	}
	hubs := Build(txs).Hubs(10)
	if len(hubs) != 1 || hubs[0].Address != "hub" || hubs[0].Degree() != 12 {
		t.Fatalf("unexpected hubs: %+v", hubs)
	}
}

func TestFindChains_Linear(t *testing.T) {
	g := Build(lineTxs("a", "b", "c", "d", "e", "f"))
	chains := NewChainFinder(g).FindChains("a", 10)

	if len(chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(chains))
	}
	c := chains[0]
	if c.Hops() != 5 || c.Start() != "a" || c.End() != "f" {
		t.Errorf("unexpected chain %v", c.Endpoints())
	}
	if got := c.Intermediaries(); len(got) != 4 || got[0] != "b" || got[3] != "e" {
		t.Errorf("intermediaries = %v", got)
	}
	span, ok := c.Span()
	if !ok || span != 8*time.Hour {
		t.Errorf("span = %v (%v), want 8h", span, ok)
	}
}

func TestFindChains_ShortChainsDiscarded(t *testing.T) {
	g := Build(lineTxs("a", "b", "c"))
	if chains := NewChainFinder(g).FindChains("a", 10); len(chains) != 0 {
		t.Fatalf("2-hop dead end should be discarded, got %d chains", len(chains))
	}
}

func TestFindChains_MaxHops(t *testing.T) {
	addrs := make([]string, 16)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("n%02d", i)
	}
	g := Build(lineTxs(addrs...))

	chains := NewChainFinder(g).FindChains("n00", 10)
	if len(chains) != 1 || chains[0].Hops() != 10 {
		t.Fatalf("expected a single 10-hop chain, got %d chains", len(chains))
	}
	if chains[0].End() != "n10" {
		t.Errorf("chain should stop at n10, ended at %s", chains[0].End())
	}
}

func TestFindChains_CycleGuard(t *testing.T) {
	txs := []models.Transaction{
		mkTx("1", "a", "b", "1", 0),
		mkTx("2", "b", "c", "1", time.Hour),
		mkTx("3", "c", "b", "1", 2*time.Hour), // back-and-forth
		mkTx("4", "c", "d", "1", 3*time.Hour),
		mkTx("5", "d", "e", "1", 4*time.Hour),
	}
	chains := NewChainFinder(Build(txs)).FindChains("a", 10)

	if len(chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(chains))
	}
	for _, c := range chains {
		assertSimple(t, c, 10)
	}
	if chains[0].End() != "e" {
		t.Errorf("expected chain to end at e, got %v", chains[0].Endpoints())
	}
}

func TestFindChains_ReturnToStart(t *testing.T) {
	txs := []models.Transaction{
		mkTx("1", "a", "b", "1", 0),
		mkTx("2", "b", "c", "1", time.Hour),
		mkTx("3", "c", "a", "1", 2*time.Hour),
		mkTx("4", "a", "z", "1", 3*time.Hour),
	}
	chains := NewChainFinder(Build(txs)).FindChains("a", 10)

	var closing []Chain
	for _, c := range chains {
		assertSimple(t, c, 10)
		if c.Closes() {
			closing = append(closing, c)
		}
	}
	if len(closing) != 1 || closing[0].Hops() != 3 {
		t.Fatalf("expected one closing 3-hop chain, got %d", len(closing))
	}
}

func TestFindChains_DenseGraphIsCapped(t *testing.T) {
	const n = 12
	var txs []models.Transaction
	k := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			k++
			txs = append(txs, mkTx(fmt.Sprint(k), fmt.Sprintf("v%d", i), fmt.Sprintf("v%d", j), "1", time.Duration(k)*time.Second))
		}
	}

	finder := NewChainFinder(Build(txs), WithMaxExpansions(500))
	res := finder.Search("v0", 10)

	if !res.Truncated {
		t.Fatalf("dense graph should hit the expansion cap")
	}
	if res.Expanded > 500 {
		t.Errorf("expanded %d partial chains, cap is 500", res.Expanded)
	}
	for _, c := range res.Chains {
		assertSimple(t, c, 10)
	}
}

func TestMainPathsAndFlow(t *testing.T) {
	txs := []models.Transaction{
		mkTx("1", "a", "b", "1", 0),
		mkTx("2", "b", "c", "1", time.Hour),
		mkTx("3", "a", "x", "5", 0),
		mkTx("4", "x", "y", "5", time.Hour),
		mkTx("5", "y", "z", "5", 2*time.Hour),
	}
	g := Build(txs)

	paths := MainPaths(g, "a", 5, 10)
	if len(paths) != 2 {
		t.Fatalf("expected 2 main paths, got %d", len(paths))
	}
	if !paths[0].TotalAmount().Equal(decimal.NewFromInt(15)) {
		t.Errorf("largest path first, got %s", paths[0].TotalAmount())
	}

	fa := AnalyzeFlow(g, "a", DefaultMaxHops)
	if fa.PathsAnalyzed != 2 || fa.AverageHops != 2.5 || fa.PatternType != FlowSimple || fa.Suspicious {
		t.Errorf("unexpected flow analysis %+v", fa)
	}
	st := paths[0].Stats()
	if st.HopCount != 3 || st.AddressesCount != 4 || st.TimeSpanSeconds != 7200 {
		t.Errorf("unexpected path stats %+v", st)
	}

	if none := AnalyzeFlow(g, "nobody", DefaultMaxHops); none.PatternType != FlowNone {
		t.Errorf("unknown start should have no flow, got %s", none.PatternType)
	}
}

func TestAnalyzeFlow_MaxHops(t *testing.T) {
	g := Build(lineTxs("a", "b", "c", "d", "e", "f", "g"))

	if fa := AnalyzeFlow(g, "a", 0); fa.AverageHops != 6 || fa.PatternType != FlowComplex {
		t.Errorf("default bound: %+v", fa)
	}
	fa := AnalyzeFlow(g, "a", 3)
	if fa.PathsAnalyzed != 1 || fa.MainPaths[0].HopCount != 3 || fa.PatternType != FlowModerate {
		t.Errorf("maxHops 3: %+v", fa)
	}
}

func TestSummarizeFlow_MatchesAnalyzeFlow(t *testing.T) {
	txs := []models.Transaction{
		mkTx("1", "a", "b", "1", 0),
		mkTx("2", "b", "c", "1", time.Hour),
		mkTx("3", "a", "x", "5", 0),
		mkTx("4", "x", "y", "5", time.Hour),
		mkTx("5", "y", "z", "5", 2*time.Hour),
		mkTx("6", "a", "q", "9", 0),
	}
	g := Build(txs)

	// The one-hop dead end to q carries the most value but is never a main path.
	chains := NewChainFinder(g, WithMinHops(1)).FindChains("a", DefaultMaxHops)
	order := make([]string, len(chains))
	for i, c := range chains {
		order[i] = c.Edges[0].TxHash
	}

	want := AnalyzeFlow(g, "a", DefaultMaxHops)
	got := SummarizeFlow(chains)
	if !reflect.DeepEqual(want, got) {
		t.Errorf("SummarizeFlow = %+v, want %+v", got, want)
	}
	for i, c := range chains {
		if c.Edges[0].TxHash != order[i] {
			t.Fatal("SummarizeFlow reordered its input")
		}
	}
}
