package graph

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultMaxHops       = 10
	DefaultMaxExpansions = 5000
	DefaultMinHops       = 3
)

// Chain is an ordered walk of edges starting at the search address. No
// endpoint repeats, except that the final edge may return to the start.
type Chain struct {
	Edges []Edge `json:"edges"`
}

// Hops is the number of edges in the chain.
func (c Chain) Hops() int { return len(c.Edges) }

// Start is the address the walk began at.
func (c Chain) Start() string {
	if len(c.Edges) == 0 {
		return ""
	}
	return c.Edges[0].From
}

// End is the last endpoint reached.
func (c Chain) End() string {
	if len(c.Edges) == 0 {
		return ""
	}
	return c.Edges[len(c.Edges)-1].To
}

// Closes reports whether the last edge lands back on the start address.
func (c Chain) Closes() bool {
	return len(c.Edges) > 0 && c.End() == c.Start()
}

// Endpoints lists the start followed by every edge's receiver.
func (c Chain) Endpoints() []string {
	if len(c.Edges) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Edges)+1)
	out = append(out, c.Edges[0].From)
	for _, e := range c.Edges {
		out = append(out, e.To)
	}
	return out
}

// Intermediaries are the endpoints strictly between start and end.
func (c Chain) Intermediaries() []string {
	if len(c.Edges) < 2 {
		return nil
	}
	out := make([]string, 0, len(c.Edges)-1)
	for _, e := range c.Edges[:len(c.Edges)-1] {
		out = append(out, e.To)
	}
	return out
}

// Span is the time between the earliest and latest edge. ok is false when
// any edge has no timestamp.
func (c Chain) Span() (span time.Duration, ok bool) {
	if len(c.Edges) == 0 {
		return 0, false
	}
	var first, last time.Time
	for i, e := range c.Edges {
		if e.Timestamp.IsZero() {
			return 0, false
		}
		if i == 0 || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return last.Sub(first), true
}

// TotalAmount sums every edge's amount.
func (c Chain) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c.Edges {
		total = total.Add(e.Amount)
	}
	return total
}

// TxHashes lists the hashes along the chain.
func (c Chain) TxHashes() []string {
	out := make([]string, 0, len(c.Edges))
	for _, e := range c.Edges {
		out = append(out, e.TxHash)
	}
	return out
}

// FinderOption customizes a ChainFinder.
type FinderOption func(*ChainFinder)

// WithMaxExpansions caps the total number of partial chains created per search.
func WithMaxExpansions(n int) FinderOption {
	return func(f *ChainFinder) {
		if n > 0 {
			f.maxExpansions = n
		}
	}
}

// WithMinHops sets the shortest dead-end chain worth emitting.
func WithMinHops(n int) FinderOption {
	return func(f *ChainFinder) {
		if n > 0 {
			f.minHops = n
		}
	}
}

// ChainFinder enumerates bounded simple walks over a Graph.
type ChainFinder struct {
	g             *Graph
	maxExpansions int
	minHops       int
}

// NewChainFinder returns a finder with the default cap and minimum length.
func NewChainFinder(g *Graph, opts ...FinderOption) *ChainFinder {
	f := &ChainFinder{
		g:             g,
		maxExpansions: DefaultMaxExpansions,
		minHops:       DefaultMinHops,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SearchResult carries the emitted chains together with the work done.
type SearchResult struct {
	Chains    []Chain
	Expanded  int  // partial chains created
	Truncated bool // the expansion cap stopped the search
}

// step is one partial chain in the arena. Chains share prefixes through
// parent links, so membership checks walk at most maxHops entries.
type step struct {
	parent int
	edge   int
	depth  int
}

// FindChains is Search without the bookkeeping.
func (f *ChainFinder) FindChains(start string, maxHops int) []Chain {
	return f.Search(start, maxHops).Chains
}

// Search runs a breadth-first expansion from start's outgoing edges.
//
// A partial chain is emitted when it reaches maxHops, when it returns to
// start, or when it cannot be extended and has at least minHops edges.
// An extension is admissible only if its receiver is not already an
// endpoint of the partial chain (returning to start is always admissible
// and terminal). Once maxExpansions partial chains exist the search stops
// and returns what has been emitted so far.
func (f *ChainFinder) Search(start string, maxHops int) SearchResult {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	var res SearchResult
	arena := make([]step, 0, 64)

	push := func(parent, edge, depth int) bool {
		if len(arena) >= f.maxExpansions {
			res.Truncated = true
			return false
		}
		arena = append(arena, step{parent: parent, edge: edge, depth: depth})
		return true
	}

	for _, ei := range f.g.out[start] {
		if !push(-1, ei, 1) {
			break
		}
	}

	for head := 0; head < len(arena) && !res.Truncated; head++ {
		cur := arena[head]
		last := f.g.edges[cur.edge].To

		if cur.depth >= maxHops {
			res.Chains = append(res.Chains, f.materialize(arena, head))
			continue
		}
		if last == start {
			if cur.depth >= f.minHops {
				res.Chains = append(res.Chains, f.materialize(arena, head))
			}
			continue
		}

		extended := false
		for _, ei := range f.g.out[last] {
			to := f.g.edges[ei].To
			if to != start && f.onChain(arena, head, start, to) {
				continue
			}
			if !push(head, ei, cur.depth+1) {
				break
			}
			extended = true
		}
		if res.Truncated {
			break
		}
		if !extended && cur.depth >= f.minHops {
			res.Chains = append(res.Chains, f.materialize(arena, head))
		}
	}

	res.Expanded = len(arena)
	return res
}

func (f *ChainFinder) onChain(arena []step, idx int, start, addr string) bool {
	if addr == start {
		return true
	}
	for i := idx; i >= 0; i = arena[i].parent {
		if f.g.edges[arena[i].edge].To == addr {
			return true
		}
	}
	return false
}

func (f *ChainFinder) materialize(arena []step, idx int) Chain {
	edges := make([]Edge, arena[idx].depth)
	for i := idx; i >= 0; i = arena[i].parent {
		edges[arena[i].depth-1] = f.g.edges[arena[i].edge]
	}
	return Chain{Edges: edges}
}
