package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/bitcoin"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	address, _ := cmd.Flags().GetString("address")
	inPath, _ := cmd.Flags().GetString("in")
	lang, _ := cmd.Flags().GetString("lang")
	useBTC, _ := cmd.Flags().GetBool("btc")

	if address == "" {
		return fmt.Errorf("address is required")
	}
	if !useBTC && inPath == "" {
		return fmt.Errorf("either --in or --btc is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, tpl, err := loadAssets(cfg)
	if err != nil {
		return err
	}

	var txs []models.Transaction
	currency := cfg.Currency
	if useBTC {
		if cfg.BTCRPCHost == "" {
			return fmt.Errorf("btc-rpc-host is required with --btc")
		}
		client, err := bitcoin.NewClient(bitcoin.Config{
			Host:    cfg.BTCRPCHost,
			User:    cfg.BTCRPCUser,
			Pass:    cfg.BTCRPCPass,
			Network: cfg.BTCNetwork,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect bitcoin rpc: %w", err)
		}
		defer client.Shutdown()

		txs, err = client.AddressHistory(ctx, address, cfg.BTCHistoryLimit)
		if err != nil {
			return err
		}
		currency = "BTC"
	} else {
		txs, err = readTransactions(inPath, logger)
		if err != nil {
			return err
		}
	}

	engine, err := newEngine(cfg, cat, tpl, currency, logger)
	if err != nil {
		return err
	}
	report, err := engine.Analyze(ctx, analysis.Request{Address: address, Transactions: txs, Language: lang})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(report)
}

// readTransactions decodes a JSON array of raw transactions and normalizes
// it. Malformed records are skipped with a warning.
func readTransactions(path string, logger *zap.Logger) ([]models.Transaction, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var raws []models.RawTransaction
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode input %s: %w", path, err)
	}
	txs, dropped := models.NormalizeAll(raws)
	if dropped > 0 {
		logger.Warn("skipped malformed transactions", zap.Int("dropped", dropped), zap.Int("kept", len(txs)))
	}
	return txs, nil
}
