package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeValue is returned when a record carries a value below zero.
	ErrNegativeValue = errors.New("transaction value is negative")
	// ErrInvalidValue is returned when a record's value is not a decimal number.
	ErrInvalidValue = errors.New("transaction value is not a decimal")
)

// Transaction is a single value transfer between two addresses.
// It is immutable once produced by Normalize: analysis code never
// re-validates fields, it relies on the defaults documented here.
type Transaction struct {
	Hash        string            `json:"hash"`
	From        string            `json:"from"`              // lowercased, "" when absent
	To          string            `json:"to"`                // lowercased, "" when absent (contract creation)
	Value       decimal.Decimal   `json:"value"`             // native units, >= 0, 0 when absent
	Timestamp   time.Time         `json:"timestamp"`         // UTC, zero when missing or unparseable
	BlockNumber uint64            `json:"blockNumber,omitempty"`
	GasUsed     uint64            `json:"gasUsed,omitempty"`
	GasPrice    string            `json:"gasPrice,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"` // carried through, never interpreted
}

// HasTimestamp reports whether the transaction can take part in
// time-based computations.
func (t Transaction) HasTimestamp() bool {
	return !t.Timestamp.IsZero()
}

// Amount returns the value as a float64 for statistics.
func (t Transaction) Amount() float64 {
	return t.Value.InexactFloat64()
}

// Counterparty returns the other side of the transfer relative to address.
func (t Transaction) Counterparty(address string) string {
	if t.From == address {
		return t.To
	}
	return t.From
}

// RawTransaction is the ingestion shape received from data providers and
// the HTTP API. Any field may be missing.
type RawTransaction struct {
	Hash        string            `json:"hash"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Value       json.RawMessage   `json:"value,omitempty"`
	Timestamp   json.RawMessage   `json:"timestamp,omitempty"`
	BlockNumber uint64            `json:"blockNumber,omitempty"`
	GasUsed     uint64            `json:"gasUsed,omitempty"`
	GasPrice    string            `json:"gasPrice,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NormalizeAddress trims and case-folds an address. EVM hex addresses are
// canonicalized first so that mixed-checksum spellings collapse to one key.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}

// Normalize validates a raw record and produces the immutable Transaction.
func Normalize(raw RawTransaction) (Transaction, error) {
	value, err := parseValue(raw.Value)
	if err != nil {
		return Transaction{}, fmt.Errorf("tx %q: %w", raw.Hash, err)
	}
	if value.IsNegative() {
		return Transaction{}, fmt.Errorf("tx %q: %w", raw.Hash, ErrNegativeValue)
	}

	return Transaction{
		Hash:        strings.TrimSpace(raw.Hash),
		From:        NormalizeAddress(raw.From),
		To:          NormalizeAddress(raw.To),
		Value:       value,
		Timestamp:   ParseTimestamp(raw.Timestamp),
		BlockNumber: raw.BlockNumber,
		GasUsed:     raw.GasUsed,
		GasPrice:    raw.GasPrice,
		Metadata:    raw.Metadata,
	}, nil
}

// NormalizeAll converts every valid record and skips the rest, returning
// the number of records that were dropped.
func NormalizeAll(raws []RawTransaction) ([]Transaction, int) {
	txs := make([]Transaction, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		tx, err := Normalize(raw)
		if err != nil {
			dropped++
			continue
		}
		txs = append(txs, tx)
	}
	return txs, dropped
}

// parseValue accepts a JSON number or a quoted decimal string. Absent and
// null values default to zero.
func parseValue(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidValue
	}
	return d, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts an ISO-8601 string (naive values are taken as UTC)
// or unix seconds encoded as a JSON number or string. Anything else yields
// the zero time.
func ParseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// bare JSON number
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * 1e9)
		return time.Unix(whole, nanos).UTC()
	}
	return time.Time{}
}
