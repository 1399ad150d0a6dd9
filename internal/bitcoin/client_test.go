package bitcoin

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `[
  {
    "txid": "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
    "blocktime": 1714557600,
    "vin": [{"txid": "aa", "vout": 0, "prevOut": {"addresses": ["bc1qsender"], "value": 1.5}}],
    "vout": [
      {"value": 1.0, "n": 0, "scriptPubKey": {"type": "witness_v0_keyhash", "address": "bc1qrecipient"}},
      {"value": 0.49, "n": 1, "scriptPubKey": {"type": "witness_v0_keyhash", "addresses": ["bc1qsender"]}},
      {"value": 0, "n": 2, "scriptPubKey": {"type": "nulldata"}}
    ]
  },
  {
    "txid": "0e3e2357e806b6cdb1f70b54c3a3a17b6714ee1f0e68bebb44a74b1efd512098",
    "time": 1714561200,
    "vin": [{"coinbase": "04ffff001d0104"}],
    "vout": [{"value": 6.25, "n": 0, "scriptPubKey": {"type": "pubkeyhash", "address": "1MinerAddr"}}]
  },
  {
    "txid": "not-a-txid",
    "vin": [],
    "vout": [{"value": 1, "n": 0, "scriptPubKey": {"address": "bc1qx"}}]
  },
  {
    "txid": "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
    "vin": [{"txid": "bb", "vout": 1, "prevOut": {"address": "bc1qrecipient", "value": 1.0}}],
    "vout": [{"value": 0.3, "n": 3, "scriptPubKey": {"address": "bc1qother"}}]
  }
]`

func TestFlatten(t *testing.T) {
	var results []SearchResult
	require.NoError(t, json.Unmarshal([]byte(fixture), &results))

	txs, dropped := Flatten(results)
	assert.Equal(t, 1, dropped)
	require.Len(t, txs, 3)

	first := txs[0]
	assert.Equal(t, "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b:0", first.Hash)
	assert.Equal(t, "bc1qsender", first.From)
	assert.Equal(t, "bc1qrecipient", first.To)
	assert.True(t, first.Value.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, time.Unix(1714557600, 0).UTC(), first.Timestamp)
	assert.Equal(t, "bitcoin", first.Metadata["chain"])

	coinbase := txs[1]
	assert.Empty(t, coinbase.From)
	assert.Equal(t, "1mineraddr", coinbase.To)
	assert.Equal(t, time.Unix(1714561200, 0).UTC(), coinbase.Timestamp, "falls back to mempool time")

	unconfirmed := txs[2]
	assert.Equal(t, "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16:3", unconfirmed.Hash)
	assert.False(t, unconfirmed.HasTimestamp())
	assert.True(t, unconfirmed.Value.Equal(decimal.RequireFromString("0.3")))
}

func TestFlatten_Empty(t *testing.T) {
	txs, dropped := Flatten(nil)
	assert.Empty(t, txs)
	assert.NotNil(t, txs)
	assert.Zero(t, dropped)
}

func TestNetworkParams(t *testing.T) {
	cases := map[string]*chaincfg.Params{
		"":         &chaincfg.MainNetParams,
		"mainnet":  &chaincfg.MainNetParams,
		"testnet3": &chaincfg.TestNet3Params,
		"regtest":  &chaincfg.RegressionNetParams,
		"SIGNET":   &chaincfg.SigNetParams,
	}
	for name, want := range cases {
		got, err := NetworkParams(name)
		require.NoError(t, err, name)
		assert.Equal(t, want.Name, got.Name, name)
	}
	_, err := NetworkParams("litecoin")
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", &chaincfg.MainNetParams))
	assert.NoError(t, ValidateAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", &chaincfg.MainNetParams))
	assert.ErrorIs(t, ValidateAddress("not-an-address", &chaincfg.MainNetParams), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", &chaincfg.TestNet3Params), ErrInvalidAddress)
}
