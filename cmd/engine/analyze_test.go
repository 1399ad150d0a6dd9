package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadTransactions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txs.json")
	body := `[
	  {"hash": "a", "from": "0xAAAA", "to": "0xbbbb", "value": "1.5", "timestamp": "2024-05-01T10:00:00Z"},
	  {"hash": "b", "from": "0xaaaa", "to": "0xcccc", "value": -2},
	  {"hash": "c", "from": "0xaaaa", "to": "0xcccc"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	txs, err := readTransactions(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "0xaaaa", txs[0].From)
	assert.True(t, txs[1].Value.IsZero())
	assert.False(t, txs[1].HasTimestamp())
}

func TestReadTransactions_Errors(t *testing.T) {
	_, err := readTransactions(filepath.Join(t.TempDir(), "missing.json"), zap.NewNop())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hash": "not an array"}`), 0o600))
	_, err = readTransactions(path, zap.NewNop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("loud")
	assert.Error(t, err)
}
