package heuristics

import (
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// High-Risk Address Watchlist
//
// The counterparty factor of the risk score counts how many transactions
// touch an address known to belong to a high-risk entity (sanctioned
// mixers, exploit wallets). The list comes from the catalog's
// high_risk_addresses and is frozen at construction, so lookups need no
// locking and one watchlist can be shared by every concurrent analysis.
//
// Lookup is O(1) using a map-based set.

// DefaultHighRiskAddresses are used when the catalog provides none.
var DefaultHighRiskAddresses = []string{
	"0xd90e2f925da726b50c4ed8d0fb90ad053324f31b", // Tornado Cash router
	"0x47ce0c6ed5b0ce3d3a51fdb1c52dc66a7c3c2936", // Tornado Cash 1 ETH pool
}

// Watchlist is an immutable set of normalized addresses.
type Watchlist struct {
	addresses map[string]struct{}
	ordered   []string
}

// NewWatchlist normalizes and de-duplicates addrs.
func NewWatchlist(addrs ...string) *Watchlist {
	w := &Watchlist{addresses: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		n := models.NormalizeAddress(a)
		if n == "" {
			continue
		}
		if _, dup := w.addresses[n]; dup {
			continue
		}
		w.addresses[n] = struct{}{}
		w.ordered = append(w.ordered, n)
	}
	return w
}

// Contains checks if an address is watchlisted. addr must already be normalized.
func (w *Watchlist) Contains(addr string) bool {
	_, ok := w.addresses[addr]
	return ok
}

// Touches reports whether either side of tx is watchlisted.
func (w *Watchlist) Touches(tx models.Transaction) bool {
	return w.Contains(tx.From) || w.Contains(tx.To)
}

// CountHits returns how many transactions touch the watchlist.
func (w *Watchlist) CountHits(txs []models.Transaction) int {
	n := 0
	for _, tx := range txs {
		if w.Touches(tx) {
			n++
		}
	}
	return n
}

// Len is the number of watched addresses.
func (w *Watchlist) Len() int { return len(w.ordered) }

// Addresses lists the watched addresses in insertion order.
func (w *Watchlist) Addresses() []string {
	return append([]string(nil), w.ordered...)
}
