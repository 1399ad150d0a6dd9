package graph

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Flow pattern types, by average hop count of the main paths.
const (
	FlowNone     = "none"
	FlowSimple   = "simple"
	FlowModerate = "moderate_layering"
	FlowComplex  = "complex_layering"
)

// PathStats summarizes one chain for reporting.
type PathStats struct {
	HopCount        int             `json:"hopCount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	AverageAmount   decimal.Decimal `json:"averageAmount"`
	TimeSpanSeconds float64         `json:"timeSpanSeconds"`
	AddressesCount  int             `json:"addressesCount"`
	Intermediaries  []string        `json:"intermediaries"`
	TxHashes        []string        `json:"txHashes"`
}

// Stats computes PathStats for c. The time span covers only the edges
// that carry a timestamp.
func (c Chain) Stats() PathStats {
	s := PathStats{
		HopCount:       c.Hops(),
		TotalAmount:    c.TotalAmount(),
		AverageAmount:  decimal.Zero,
		Intermediaries: c.Intermediaries(),
		TxHashes:       c.TxHashes(),
	}
	if s.HopCount > 0 {
		s.AverageAmount = s.TotalAmount.Div(decimal.NewFromInt(int64(s.HopCount)))
	}

	addrs := make(map[string]bool)
	var stamped []Edge
	for _, e := range c.Edges {
		addrs[e.From] = true
		addrs[e.To] = true
		if !e.Timestamp.IsZero() {
			stamped = append(stamped, e)
		}
	}
	s.AddressesCount = len(addrs)
	if len(stamped) >= 2 {
		if span, ok := (Chain{Edges: stamped}).Span(); ok {
			s.TimeSpanSeconds = span.Seconds()
		}
	}
	return s
}

// MainPathMinHops is the shortest chain MainPaths and SummarizeFlow consider.
const MainPathMinHops = 2

// MainPaths returns up to maxPaths chains of at least two hops from start,
// largest total amount first.
func MainPaths(g *Graph, start string, maxPaths, maxHops int, opts ...FinderOption) []Chain {
	opts = append([]FinderOption{WithMinHops(MainPathMinHops)}, opts...)
	return RankPaths(NewChainFinder(g, opts...).FindChains(start, maxHops), maxPaths)
}

// RankPaths picks up to maxPaths chains of at least MainPathMinHops hops,
// largest total amount first. chains is not reordered.
func RankPaths(chains []Chain, maxPaths int) []Chain {
	ranked := make([]Chain, 0, len(chains))
	for _, c := range chains {
		if c.Hops() >= MainPathMinHops {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalAmount().GreaterThan(ranked[j].TotalAmount())
	})
	if maxPaths > 0 && len(ranked) > maxPaths {
		ranked = ranked[:maxPaths]
	}
	return ranked
}

// FlowAnalysis classifies how far value travels from the start address.
type FlowAnalysis struct {
	PatternType   string      `json:"patternType"`
	AverageHops   float64     `json:"averageHops"`
	Suspicious    bool        `json:"suspicious"`
	PathsAnalyzed int         `json:"pathsAnalyzed"`
	MainPaths     []PathStats `json:"mainPaths"`
}

const flowPaths = 3

// AnalyzeFlow looks at the top three main paths of at most maxHops hops
// from start.
func AnalyzeFlow(g *Graph, start string, maxHops int, opts ...FinderOption) FlowAnalysis {
	return summarize(MainPaths(g, start, flowPaths, maxHops, opts...))
}

// SummarizeFlow is AnalyzeFlow over chains an earlier Search already found.
// The search must have used a minimum of MainPathMinHops hops or fewer.
func SummarizeFlow(chains []Chain) FlowAnalysis {
	return summarize(RankPaths(chains, flowPaths))
}

func summarize(paths []Chain) FlowAnalysis {
	if len(paths) == 0 {
		return FlowAnalysis{PatternType: FlowNone, MainPaths: []PathStats{}}
	}

	fa := FlowAnalysis{PathsAnalyzed: len(paths)}
	hops := 0
	for _, p := range paths {
		st := p.Stats()
		fa.MainPaths = append(fa.MainPaths, st)
		hops += st.HopCount
	}
	fa.AverageHops = float64(hops) / float64(len(paths))

	switch {
	case fa.AverageHops >= 5:
		fa.PatternType = FlowComplex
	case fa.AverageHops >= 3:
		fa.PatternType = FlowModerate
	default:
		fa.PatternType = FlowSimple
	}
	fa.Suspicious = fa.AverageHops >= 3
	return fa
}
