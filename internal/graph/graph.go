package graph

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Transaction Graph
//
// Folds a flat transaction list into an address graph: one Node per address
// seen as sender or receiver, one Edge per transaction, and an adjacency
// index keyed by sender that the chain finder walks.
//
//   Node  = address with in/out counts and cumulative sent/received value
//   Edge  = the transaction itself (hash, amount, timestamp, endpoints)
//
// Missing endpoints are kept as the empty address so the edge count always
// equals the transaction count. Node order follows first appearance in the
// input, which keeps every derived listing deterministic.

// Node is one address in the graph.
type Node struct {
	Address       string          `json:"address"`
	IncomingCount int             `json:"incomingCount"`
	OutgoingCount int             `json:"outgoingCount"`
	TotalReceived decimal.Decimal `json:"totalReceived"`
	TotalSent     decimal.Decimal `json:"totalSent"`
}

// Degree is the number of edges touching the node.
func (n *Node) Degree() int {
	return n.IncomingCount + n.OutgoingCount
}

// Edge is one transaction between two addresses.
type Edge struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	TxHash    string          `json:"txHash"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Graph is built once per analysis and never modified afterwards.
type Graph struct {
	nodes map[string]*Node
	order []string
	edges []Edge
	out   map[string][]int // sender -> indexes into edges
}

// Build constructs the graph in a single pass over txs.
func Build(txs []models.Transaction) *Graph {
	g := &Graph{
		nodes: make(map[string]*Node),
		edges: make([]Edge, 0, len(txs)),
		out:   make(map[string][]int),
	}

	for _, tx := range txs {
		from := g.ensureNode(tx.From)
		to := g.ensureNode(tx.To)

		from.OutgoingCount++
		from.TotalSent = from.TotalSent.Add(tx.Value)
		to.IncomingCount++
		to.TotalReceived = to.TotalReceived.Add(tx.Value)

		g.out[tx.From] = append(g.out[tx.From], len(g.edges))
		g.edges = append(g.edges, Edge{
			From:      tx.From,
			To:        tx.To,
			TxHash:    tx.Hash,
			Amount:    tx.Value,
			Timestamp: tx.Timestamp,
		})
	}
	return g
}

func (g *Graph) ensureNode(addr string) *Node {
	if n, ok := g.nodes[addr]; ok {
		return n
	}
	n := &Node{Address: addr, TotalReceived: decimal.Zero, TotalSent: decimal.Zero}
	g.nodes[addr] = n
	g.order = append(g.order, addr)
	return n
}

// Node returns the node for addr, or nil when the address never appeared.
func (g *Graph) Node(addr string) *Node {
	return g.nodes[addr]
}

// Nodes returns every node in first-seen order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, addr := range g.order {
		out = append(out, g.nodes[addr])
	}
	return out
}

// Edges returns every edge in input order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Outgoing returns the edges sent by addr in input order.
func (g *Graph) Outgoing(addr string) []Edge {
	idx := g.out[addr]
	out := make([]Edge, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i])
	}
	return out
}

// Summary is a compact description of the graph's size.
type Summary struct {
	NodeCount   int             `json:"nodeCount"`
	EdgeCount   int             `json:"edgeCount"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
	Density     float64         `json:"density"` // edges / possible directed edges
}

// Summary computes node/edge counts, total volume and directed density.
func (g *Graph) Summary() Summary {
	s := Summary{
		NodeCount:   len(g.nodes),
		EdgeCount:   len(g.edges),
		TotalVolume: decimal.Zero,
	}
	for _, e := range g.edges {
		s.TotalVolume = s.TotalVolume.Add(e.Amount)
	}
	if n := len(g.nodes); n > 1 {
		s.Density = float64(len(g.edges)) / float64(n*(n-1))
	}
	return s
}

// Hubs returns nodes whose degree is at least minDegree, highest degree first.
func (g *Graph) Hubs(minDegree int) []*Node {
	var hubs []*Node
	for _, n := range g.Nodes() {
		if n.Degree() >= minDegree {
			hubs = append(hubs, n)
		}
	}
	sort.SliceStable(hubs, func(i, j int) bool {
		return hubs[i].Degree() > hubs[j].Degree()
	})
	return hubs
}
