package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. FUNDFLOW_HTTP_ADDR.
const EnvPrefix = "FUNDFLOW"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel string

	HTTPAddr        string
	AuthToken       string
	AllowedOrigins  []string
	RateLimitPerMin int
	RateLimitBurst  int

	PatternsFile      string
	TemplatesFile     string
	ZScoreThreshold   float64
	MaxHops           int
	MaxExpansions     int
	Currency          string
	ParallelPatterns  bool
	NarrativeSelector string
	NarrativeSeed     int64
	DefaultLanguage   string

	PGDSN string

	KafkaBrokers    []string
	KafkaTopic      string
	AlertMinLevel   string
	AlertWebhookURL string

	BTCRPCHost      string
	BTCRPCUser      string
	BTCRPCPass      string
	BTCNetwork      string
	BTCHistoryLimit int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("rate-limit-per-min", 30)
	v.SetDefault("rate-limit-burst", 10)
	v.SetDefault("zscore-threshold", 3.0)
	v.SetDefault("max-hops", 10)
	v.SetDefault("max-expansions", 5000)
	v.SetDefault("currency", "ETH")
	v.SetDefault("parallel-patterns", true)
	v.SetDefault("narrative-selector", "hash")
	v.SetDefault("narrative-seed", int64(1))
	v.SetDefault("default-language", "en")
	v.SetDefault("kafka-topic", "fundflow.alerts")
	v.SetDefault("alert-min-level", "high")
	v.SetDefault("btc-network", "mainnet")
	v.SetDefault("btc-history-limit", 500)
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("fundflow")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:          v.GetString("log-level"),
		HTTPAddr:          v.GetString("http-addr"),
		AuthToken:         v.GetString("auth-token"),
		AllowedOrigins:    getStringSlice(v, "allowed-origins"),
		RateLimitPerMin:   v.GetInt("rate-limit-per-min"),
		RateLimitBurst:    v.GetInt("rate-limit-burst"),
		PatternsFile:      v.GetString("patterns-file"),
		TemplatesFile:     v.GetString("templates-file"),
		ZScoreThreshold:   v.GetFloat64("zscore-threshold"),
		MaxHops:           v.GetInt("max-hops"),
		MaxExpansions:     v.GetInt("max-expansions"),
		Currency:          strings.ToUpper(v.GetString("currency")),
		ParallelPatterns:  v.GetBool("parallel-patterns"),
		NarrativeSelector: v.GetString("narrative-selector"),
		NarrativeSeed:     v.GetInt64("narrative-seed"),
		DefaultLanguage:   v.GetString("default-language"),
		PGDSN:             v.GetString("pg-dsn"),
		KafkaBrokers:      getStringSlice(v, "kafka-brokers"),
		KafkaTopic:        v.GetString("kafka-topic"),
		AlertMinLevel:     v.GetString("alert-min-level"),
		AlertWebhookURL:   v.GetString("alert-webhook-url"),
		BTCRPCHost:        v.GetString("btc-rpc-host"),
		BTCRPCUser:        v.GetString("btc-rpc-user"),
		BTCRPCPass:        v.GetString("btc-rpc-pass"),
		BTCNetwork:        v.GetString("btc-network"),
		BTCHistoryLimit:   v.GetInt("btc-history-limit"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("zscore-threshold must be positive, got %v", c.ZScoreThreshold)
	}
	if c.MaxHops <= 0 {
		return fmt.Errorf("max-hops must be positive, got %d", c.MaxHops)
	}
	if c.MaxExpansions <= 0 {
		return fmt.Errorf("max-expansions must be positive, got %d", c.MaxExpansions)
	}
	if c.RateLimitPerMin <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	switch c.DefaultLanguage {
	case "en", "ja":
	default:
		return fmt.Errorf("default-language must be en or ja, got %q", c.DefaultLanguage)
	}
	switch c.NarrativeSelector {
	case "hash", "first", "seeded":
	default:
		return fmt.Errorf("narrative-selector must be hash, first or seeded, got %q", c.NarrativeSelector)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
