package bitcoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Bitcoin History Provider
//
// Pulls an address's on-chain history from a node with the address index
// enabled (btcd --addrindex) and flattens every output into the
// account-style Transaction records the analysis pipeline works on:
//
//	from  = address of the first input's previous output
//	to    = output address
//	value = output value in BTC
//	hash  = "<txid>:<vout>"
//
// Outputs paying back to the sender are change and are skipped.

// DefaultHistoryLimit bounds one searchrawtransactions call.
const DefaultHistoryLimit = 500

// ErrInvalidAddress is returned for addresses that do not decode for the
// configured network.
var ErrInvalidAddress = errors.New("invalid bitcoin address")

type Config struct {
	Host    string
	User    string
	Pass    string
	Network string // mainnet, testnet3, regtest or signet
}

type Client struct {
	RPC    *rpcclient.Client
	Config Config
	params *chaincfg.Params
	logger *zap.Logger
}

// NetworkParams maps a network name onto its chain parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %q", name)
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bitcoin")

	params, err := NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true, // Bitcoin Core only supports HTTP POST mode
		DisableTLS:   true,
	}

	logger.Info("connecting to bitcoin RPC", zap.String("host", cfg.Host), zap.String("network", params.Name))
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	blockCount, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, err
	}
	logger.Info("connected to bitcoin node", zap.Int64("height", blockCount))

	return &Client{RPC: client, Config: cfg, params: params, logger: logger}, nil
}

func (c *Client) Shutdown() {
	c.RPC.Shutdown()
}

// Params returns the chain parameters addresses are decoded against.
func (c *Client) Params() *chaincfg.Params { return c.params }

// ValidateAddress decodes address for the given network.
func ValidateAddress(address string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("%w: not a %s address", ErrInvalidAddress, params.Name)
	}
	return nil
}

// AddressHistory fetches up to limit transactions touching address and
// flattens them. The RPC itself cannot be cancelled; ctx is checked
// before and after the call.
func (c *Client) AddressHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	if err := ValidateAddress(address, c.params); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// searchrawtransactions "address" verbose skip count vinextra reverse
	params := []any{address, 1, 0, limit, 1, false}
	rawParams := make([]json.RawMessage, len(params))
	for i, v := range params {
		marshaled, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		rawParams[i] = marshaled
	}

	start := time.Now()
	rawResp, err := c.RPC.RawRequest("searchrawtransactions", rawParams)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey {
			// The index has never seen the address.
			return []models.Transaction{}, nil
		}
		return nil, fmt.Errorf("searchrawtransactions %s: %w", address, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []SearchResult
	if err := json.Unmarshal(rawResp, &results); err != nil {
		return nil, fmt.Errorf("searchrawtransactions %s: decode: %w", address, err)
	}

	txs, dropped := Flatten(results)
	c.logger.Info("address history fetched",
		zap.String("address", address),
		zap.Int("rawTransactions", len(results)),
		zap.Int("transfers", len(txs)),
		zap.Int("dropped", dropped),
		zap.Duration("elapsed", time.Since(start)))
	return txs, nil
}

// ─── Flattening ─────────────────────────────────────────────────────

// SearchResult is the verbose searchrawtransactions entry. Nodes report
// output addresses either as "address" or the legacy "addresses" list.
type SearchResult struct {
	Txid      string         `json:"txid"`
	Vin       []SearchInput  `json:"vin"`
	Vout      []SearchOutput `json:"vout"`
	Time      int64          `json:"time,omitempty"`
	Blocktime int64          `json:"blocktime,omitempty"`
}

type SearchInput struct {
	Coinbase string   `json:"coinbase,omitempty"`
	Txid     string   `json:"txid,omitempty"`
	Vout     uint32   `json:"vout"`
	PrevOut  *PrevOut `json:"prevOut,omitempty"`
}

type PrevOut struct {
	Address   string   `json:"address,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
	Value     float64  `json:"value"`
}

type SearchOutput struct {
	Value        float64      `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

type ScriptPubKey struct {
	Type      string   `json:"type"`
	Address   string   `json:"address,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

func firstAddress(single string, list []string) string {
	if single != "" {
		return single
	}
	if len(list) > 0 {
		return list[0]
	}
	return ""
}

// Flatten converts search results into transfers, oldest block first as
// delivered. Results with a malformed txid are dropped and counted.
func Flatten(results []SearchResult) ([]models.Transaction, int) {
	out := make([]models.Transaction, 0, len(results))
	dropped := 0
	for _, r := range results {
		hash, err := chainhash.NewHashFromStr(r.Txid)
		if err != nil {
			dropped++
			continue
		}
		txid := hash.String()

		from := ""
		if len(r.Vin) > 0 && r.Vin[0].PrevOut != nil {
			from = models.NormalizeAddress(firstAddress(r.Vin[0].PrevOut.Address, r.Vin[0].PrevOut.Addresses))
		}

		ts := r.Blocktime
		if ts == 0 {
			ts = r.Time
		}
		var at time.Time
		if ts > 0 {
			at = time.Unix(ts, 0).UTC()
		}

		for _, o := range r.Vout {
			to := models.NormalizeAddress(firstAddress(o.ScriptPubKey.Address, o.ScriptPubKey.Addresses))
			if to == "" || (from != "" && to == from) {
				continue
			}
			out = append(out, models.Transaction{
				Hash:      txid + ":" + strconv.FormatUint(uint64(o.N), 10),
				From:      from,
				To:        to,
				Value:     decimal.NewFromFloat(o.Value),
				Timestamp: at,
				Metadata: map[string]string{
					"chain": "bitcoin",
					"txid":  txid,
				},
			})
		}
	}
	return out, dropped
}
