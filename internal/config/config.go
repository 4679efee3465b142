package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/vault"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr                string   `yaml:"addr"`
		Pprof               bool     `yaml:"pprof"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Arbitrage struct {
		Eval            EvalConfig        `yaml:"eval"`
		Exec            ExecConfig        `yaml:"exec"`
		ScanConcurrency int               `yaml:"scan_concurrency"`
		AutoScan        bool              `yaml:"auto_scan"`
		ScanIntervalSec int               `yaml:"scan_interval_seconds"`
		ScanSet         string            `yaml:"scan_set"`
		ScanNotional    float64           `yaml:"scan_notional"`
		Pairs           []Pair            `yaml:"pairs"`
		PathSets        map[string][]Path `yaml:"path_sets"`
	} `yaml:"arbitrage"`
	Exchanges struct {
		Default string        `yaml:"default"`
		VALR    ExchangeCreds `yaml:"valr"`
		Binance ExchangeCreds `yaml:"binance"`
		Kraken  ExchangeCreds `yaml:"kraken"`
	} `yaml:"exchanges"`
	Database struct {
		DSN      string `yaml:"dsn"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`
}

type ExchangeCreds struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Secret  string `yaml:"secret"`
}

// EvalConfig carries the tunables of opportunity evaluation. Percent
// fields are whole percent, not fractions (0.1 means 0.1%).
type EvalConfig struct {
	MinOrderSize          float64 `yaml:"min_order_size"`
	MaxOrderSize          float64 `yaml:"max_order_size"`
	TakerFeePercent       float64 `yaml:"taker_fee_percent"`
	SlippageBufferPercent float64 `yaml:"slippage_buffer_percent"`
	MaxPriceImpactPercent float64 `yaml:"max_price_impact_percent"`
	MinProfitPercent      float64 `yaml:"min_profit_percent"`
	HighFeePercent        float64 `yaml:"high_fee_percent"`
}

// ExecConfig carries the tunables of live execution.
type ExecConfig struct {
	BalanceBufferPercent float64 `yaml:"balance_buffer_percent"`
	MaxSlippagePercent   float64 `yaml:"max_slippage_percent"`
	LegTimeoutMs         int     `yaml:"leg_timeout_ms"`
	PollIntervalMs       int     `yaml:"poll_interval_ms"`
}

// Pair declares a tradable symbol and its base/quote split so path legs
// can be walked as a currency cycle.
type Pair struct {
	Symbol string `yaml:"symbol"`
	Base   string `yaml:"base"`
	Quote  string `yaml:"quote"`
}

// Path declares one triangular path: exactly three legs forming a cycle
// back to the starting currency. Validated at catalog load, not here.
type Path struct {
	ID   string    `yaml:"id"`
	Legs []PathLeg `yaml:"legs"`
}

type PathLeg struct {
	Pair string `yaml:"pair"`
	Side string `yaml:"side"` // buy or sell
}

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = ":9090"
	c.Server.Pprof = false
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 10
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Arbitrage.Eval = EvalConfig{
		MinOrderSize:          50,
		MaxOrderSize:          10000,
		TakerFeePercent:       0.1,
		SlippageBufferPercent: 0.1,
		MaxPriceImpactPercent: 1.0,
		MinProfitPercent:      0.8,
		HighFeePercent:        0.5,
	}
	c.Arbitrage.Exec = ExecConfig{
		BalanceBufferPercent: 5.0,
		MaxSlippagePercent:   0.5,
		LegTimeoutMs:         30000,
		PollIntervalMs:       1000,
	}
	c.Arbitrage.ScanConcurrency = 4
	c.Arbitrage.AutoScan = false
	c.Arbitrage.ScanIntervalSec = 30
	c.Arbitrage.ScanSet = "ALL"
	c.Arbitrage.ScanNotional = 1000
	c.Arbitrage.Pairs = []Pair{
		{Symbol: "BTCZAR", Base: "BTC", Quote: "ZAR"},
		{Symbol: "ETHZAR", Base: "ETH", Quote: "ZAR"},
		{Symbol: "XRPZAR", Base: "XRP", Quote: "ZAR"},
		{Symbol: "LINKZAR", Base: "LINK", Quote: "ZAR"},
		{Symbol: "USDTZAR", Base: "USDT", Quote: "ZAR"},
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
		{Symbol: "XRPUSDT", Base: "XRP", Quote: "USDT"},
		{Symbol: "LINKUSDT", Base: "LINK", Quote: "USDT"},
		{Symbol: "SOLUSDT", Base: "SOL", Quote: "USDT"},
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
		{Symbol: "SOLBTC", Base: "SOL", Quote: "BTC"},
	}
	c.Arbitrage.PathSets = map[string][]Path{
		"ZAR_FOCUS": {
			{ID: "ZAR_LINK_USDT_ZAR", Legs: []PathLeg{{Pair: "LINKZAR", Side: "buy"}, {Pair: "LINKUSDT", Side: "sell"}, {Pair: "USDTZAR", Side: "sell"}}},
			{ID: "ZAR_BTC_USDT_ZAR", Legs: []PathLeg{{Pair: "BTCZAR", Side: "buy"}, {Pair: "BTCUSDT", Side: "sell"}, {Pair: "USDTZAR", Side: "sell"}}},
			{ID: "ZAR_ETH_USDT_ZAR", Legs: []PathLeg{{Pair: "ETHZAR", Side: "buy"}, {Pair: "ETHUSDT", Side: "sell"}, {Pair: "USDTZAR", Side: "sell"}}},
			{ID: "ZAR_XRP_USDT_ZAR", Legs: []PathLeg{{Pair: "XRPZAR", Side: "buy"}, {Pair: "XRPUSDT", Side: "sell"}, {Pair: "USDTZAR", Side: "sell"}}},
		},
		"ETH_FOCUS": {
			{ID: "USDT_ETH_BTC_USDT", Legs: []PathLeg{{Pair: "ETHUSDT", Side: "buy"}, {Pair: "ETHBTC", Side: "sell"}, {Pair: "BTCUSDT", Side: "sell"}}},
			{ID: "USDT_SOL_BTC_USDT", Legs: []PathLeg{{Pair: "SOLUSDT", Side: "buy"}, {Pair: "SOLBTC", Side: "sell"}, {Pair: "BTCUSDT", Side: "sell"}}},
		},
		"BTC_FOCUS": {
			{ID: "BTC_ETH_USDT_BTC", Legs: []PathLeg{{Pair: "ETHBTC", Side: "buy"}, {Pair: "ETHUSDT", Side: "sell"}, {Pair: "BTCUSDT", Side: "buy"}}},
		},
	}
	c.Exchanges.Default = "valr"
	c.Exchanges.VALR.BaseURL = "https://api.valr.com"
	c.Exchanges.Binance.BaseURL = "https://api.binance.com"
	c.Exchanges.Kraken.BaseURL = "https://api.kraken.com"
	c.Database.MaxConns = 4
	c.Redis.Channel = "arb.opportunities"
	return c
}

func Load() Config {
	c := defaultConfig()
	if path := os.Getenv("ARB4ME_CONFIG"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}
	if v := os.Getenv("ARB4ME_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ARB4ME_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv("ARB4ME_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ARB4ME_PPROF"); v == "1" || v == "true" {
		c.Server.Pprof = true
	}
	if v := os.Getenv("ARB4ME_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	if v := os.Getenv("ARB4ME_DEFAULT_EXCHANGE"); v != "" {
		c.Exchanges.Default = v
	}
	if v := os.Getenv("ARB4ME_AUTO_SCAN"); v == "1" || v == "true" {
		c.Arbitrage.AutoScan = true
	}
	if v := os.Getenv("ARB4ME_SCAN_SET"); v != "" {
		c.Arbitrage.ScanSet = v
	}
	if v := os.Getenv("ARB4ME_SCAN_NOTIONAL"); v != "" {
		var f float64
		_, _ = fmt.Sscan(v, &f)
		if f > 0 {
			c.Arbitrage.ScanNotional = f
		}
	}
	if v := os.Getenv("ARB4ME_SCAN_CONCURRENCY"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Arbitrage.ScanConcurrency = n
		}
	}
	if v := os.Getenv("ARB4ME_MIN_PROFIT_PERCENT"); v != "" {
		var f float64
		_, _ = fmt.Sscan(v, &f)
		if f > 0 {
			c.Arbitrage.Eval.MinProfitPercent = f
		}
	}
	if v := os.Getenv("ARB4ME_MAX_SLIPPAGE_PERCENT"); v != "" {
		var f float64
		_, _ = fmt.Sscan(v, &f)
		if f > 0 {
			c.Arbitrage.Exec.MaxSlippagePercent = f
		}
	}
	if v := os.Getenv("ARB4ME_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ARB4ME_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ARB4ME_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	// API keys never come from the yaml file
	secrets := vault.EnvStore{Prefix: "ARB4ME_"}
	loadCreds(secrets, "VALR", &c.Exchanges.VALR)
	loadCreds(secrets, "BINANCE", &c.Exchanges.Binance)
	loadCreds(secrets, "KRAKEN", &c.Exchanges.Kraken)
	return c
}

func loadCreds(store vault.SecretStore, name string, creds *ExchangeCreds) {
	if v := store.Get(name + "_API_KEY"); v != "" {
		creds.APIKey = v
	}
	if v := store.Get(name + "_SECRET"); v != "" {
		creds.Secret = v
	}
}

func splitCSV(s string) []string {
	var out []string
	buf := []rune{}
	for _, r := range s {
		if r == ',' {
			if len(buf) > 0 {
				out = append(out, string(buf))
				buf = buf[:0]
			}
			continue
		}
		buf = append(buf, r)
	}
	if len(buf) > 0 {
		out = append(out, string(buf))
	}
	return out
}
