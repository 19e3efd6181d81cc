package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Payment     PaymentConfig
	Pricing     PricingConfig
	Chain       ChainConfig
	Upstream    UpstreamConfig
	Facilitator FacilitatorConfig
	Store       StoreConfig
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type PaymentConfig struct {
	WalletAddress string `mapstructure:"wallet_address"`
	Mint          string `mapstructure:"mint"`
	TokenSymbol   string `mapstructure:"token_symbol"`
	TokenDecimals int    `mapstructure:"token_decimals"`
}

type PricingConfig struct {
	PricePerQuery string `mapstructure:"price_per_query"`
	// Overrides maps a JSON-RPC method name to its base price, replacing the
	// default table entry for that method.
	Overrides map[string]string `mapstructure:"overrides"`
}

type ChainConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
	Tag    string `mapstructure:"tag"`
}

type UpstreamConfig struct {
	DefaultURL  string `mapstructure:"default_url"`
	FallbackURL string `mapstructure:"fallback_url"`
	UseFallback bool   `mapstructure:"use_fallback"`
}

type FacilitatorConfig struct {
	VerifyURL string `mapstructure:"verify_url"`
	SettleURL string `mapstructure:"settle_url"`
}

type StoreConfig struct {
	URL        string `mapstructure:"url"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// RateLimitConfig is consumed by the surrounding rate-limit middleware, not
// by the payment pipeline itself.
type RateLimitConfig struct {
	WindowMs int `mapstructure:"window_ms"`
	Max      int `mapstructure:"max"`
}

// tableMethods are the JSON-RPC methods with a dedicated base-price entry;
// each gets a PRICE_<METHOD> env binding for per-method overrides.
var tableMethods = []string{
	"getBlock",
	"getTransaction",
	"getSignaturesForAddress",
	"getSlot",
	"getBlockHeight",
	"getBalance",
	"getAccountInfo",
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("payment.token_symbol", "USDC")
	v.SetDefault("payment.token_decimals", 6)
	v.SetDefault("pricing.price_per_query", "0.001")
	v.SetDefault("chain.tag", "solana")
	v.SetDefault("upstream.use_fallback", true)
	v.SetDefault("store.ttl_seconds", 900)
	v.SetDefault("ratelimit.window_ms", 60000)
	v.SetDefault("ratelimit.max", 120)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":             "PORT",
		"server.log_level":        "LOG_LEVEL",
		"payment.wallet_address":  "PAYMENT_WALLET_ADDRESS",
		"payment.mint":            "BILLING_MINT",
		"payment.token_symbol":    "BILLING_TOKEN_SYMBOL",
		"payment.token_decimals":  "BILLING_TOKEN_DECIMALS",
		"pricing.price_per_query": "PRICE_PER_QUERY",
		"chain.rpc_url":           "CHAIN_RPC_URL",
		"chain.tag":               "CHAIN_TAG",
		"upstream.default_url":    "UPSTREAM_DEFAULT_URL",
		"upstream.fallback_url":   "UPSTREAM_FALLBACK_URL",
		"upstream.use_fallback":   "USE_FALLBACK",
		"facilitator.verify_url":  "FACILITATOR_VERIFY_URL",
		"facilitator.settle_url":  "FACILITATOR_SETTLE_URL",
		"store.url":               "INVOICE_STORE_URL",
		"store.ttl_seconds":       "INVOICE_TTL_SECONDS",
		"ratelimit.window_ms":     "RATE_LIMIT_WINDOW_MS",
		"ratelimit.max":           "RATE_LIMIT_MAX",
	}
	for _, m := range tableMethods {
		bindings["pricing.overrides."+m] = "PRICE_" + strings.ToUpper(m)
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Pricing.Overrides = canonicalizeOverrides(cfg.Pricing.Overrides)

	return cfg, cfg.validate()
}

// canonicalizeOverrides restores method-name casing lost to viper's
// case-insensitive keys, so "getblock" from PRICE_GETBLOCK lands on the
// "getBlock" table entry.
func canonicalizeOverrides(in map[string]string) map[string]string {
	if len(in) == 0 {
		return in
	}
	byLower := make(map[string]string, len(tableMethods))
	for _, m := range tableMethods {
		byLower[strings.ToLower(m)] = m
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if m, ok := byLower[strings.ToLower(k)]; ok {
			k = m
		}
		out[k] = v
	}
	return out
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Payment.WalletAddress, "PAYMENT_WALLET_ADDRESS"},
		{c.Payment.Mint, "BILLING_MINT"},
		{c.Chain.RPCURL, "CHAIN_RPC_URL"},
		{c.Upstream.DefaultURL, "UPSTREAM_DEFAULT_URL"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Payment.TokenDecimals < 0 || c.Payment.TokenDecimals > 18 {
		return fmt.Errorf("invalid BILLING_TOKEN_DECIMALS: %d", c.Payment.TokenDecimals)
	}
	if c.Store.TTLSeconds <= 0 {
		return fmt.Errorf("invalid INVOICE_TTL_SECONDS: %d", c.Store.TTLSeconds)
	}
	return nil
}
