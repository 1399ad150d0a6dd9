package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/narrative"
)

func main() {
	root := &cobra.Command{
		Use:          "engine",
		Short:        "Fund-flow forensics engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN for report storage (empty keeps reports in memory)")
	serveCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers for alert publishing (comma-separated)")
	serveCmd.Flags().String("kafka-topic", "fundflow.alerts", "Kafka alert topic")
	serveCmd.Flags().String("alert-min-level", "high", "lowest risk level that raises an alert (low, medium, high, critical)")
	serveCmd.Flags().String("alert-webhook-url", "", "POST alerts to this URL")
	serveCmd.Flags().String("btc-rpc-host", "", "bitcoin node RPC host (enables /bitcoin routes)")
	serveCmd.Flags().String("btc-network", "mainnet", "bitcoin network (mainnet, testnet3, regtest, signet)")
	addEngineFlags(serveCmd)

	root.AddCommand(serveCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one address and print the report as JSON",
		RunE:  runAnalyze,
	}

	analyzeCmd.Flags().String("address", "", "address to analyze")
	analyzeCmd.Flags().String("in", "", "input transactions JSON array (- for stdin)")
	analyzeCmd.Flags().String("lang", "", "report language (en, ja)")
	analyzeCmd.Flags().Bool("btc", false, "fetch the history from the bitcoin node instead of --in")
	analyzeCmd.Flags().String("btc-rpc-host", "", "bitcoin node RPC host")
	analyzeCmd.Flags().String("btc-network", "mainnet", "bitcoin network (mainnet, testnet3, regtest, signet)")
	addEngineFlags(analyzeCmd)

	root.AddCommand(analyzeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("patterns-file", "", "pattern catalog JSON (default: embedded)")
	cmd.Flags().String("templates-file", "", "narrative templates JSON (default: embedded)")
	cmd.Flags().Float64("zscore-threshold", 3.0, "z-score above which an amount is anomalous")
	cmd.Flags().Int("max-hops", 10, "maximum chain length for layering detection")
	cmd.Flags().Int("max-expansions", 5000, "path search budget per start address")
	cmd.Flags().String("currency", "ETH", "currency used for thresholds and report text")
	cmd.Flags().String("narrative-selector", "hash", "template selection (hash, first, seeded)")
	cmd.Flags().String("default-language", "en", "report language when a request names none")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// loadAssets reads the catalog and templates; any failure is fatal.
func loadAssets(cfg config.Config) (*catalog.PatternCatalog, *catalog.Templates, error) {
	cat, err := catalog.LoadPatterns(cfg.PatternsFile)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := catalog.LoadTemplates(cfg.TemplatesFile)
	if err != nil {
		return nil, nil, err
	}
	return cat, tpl, nil
}

// newEngine builds an engine denominated in currency.
func newEngine(cfg config.Config, cat *catalog.PatternCatalog, tpl *catalog.Templates, currency string, logger *zap.Logger) (*analysis.Engine, error) {
	selector, err := narrative.SelectorByName(cfg.NarrativeSelector, cfg.NarrativeSeed)
	if err != nil {
		return nil, err
	}
	engine, err := analysis.New(analysis.Config{
		ZScoreThreshold:  cfg.ZScoreThreshold,
		MaxHops:          cfg.MaxHops,
		MaxExpansions:    cfg.MaxExpansions,
		Currency:         currency,
		ParallelPatterns: cfg.ParallelPatterns,
		DefaultLanguage:  cfg.DefaultLanguage,
	}, cat, tpl, logger, analysis.WithSelector(selector))
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, nil
}
