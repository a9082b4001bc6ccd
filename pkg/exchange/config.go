package exchange

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures configuration for the configured exchange accounts.
type Config struct {
	Accounts map[string]*AccountConfig `yaml:"accounts"`
}

// AccountConfig describes how to construct the adapter for one account.
// The map key in Config.Accounts is the textual AccountID ("Binance0").
type AccountConfig struct {
	Type       string   `yaml:"type"`
	APIKey     string   `yaml:"api_key"`
	APISecret  string   `yaml:"api_secret"`
	Passphrase string   `yaml:"passphrase"`
	Testnet    bool     `yaml:"testnet"`
	Pairs      []string `yaml:"pairs"`    // "BTC/USDT" form
	Channels   []string `yaml:"channels"` // websocket market-data channels

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// CurrencyPairs returns the configured instruments as canonical pairs.
func (a *AccountConfig) CurrencyPairs() ([]CurrencyPair, error) {
	pairs := make([]CurrencyPair, 0, len(a.Pairs))
	for _, raw := range a.Pairs {
		base, quote, ok := strings.Cut(raw, "/")
		if !ok {
			return nil, fmt.Errorf("exchange config: invalid pair %q, want BASE/QUOTE", raw)
		}
		pairs = append(pairs, NewCurrencyPair(base, quote))
	}
	return pairs, nil
}

// ClientBuilder constructs an adapter from configuration.
type ClientBuilder func(account AccountID, cfg *AccountConfig) (Client, error)

var (
	clientRegistry   = make(map[string]ClientBuilder)
	clientRegistryMu sync.RWMutex
)

// RegisterClient associates a builder with an adapter type name.
func RegisterClient(typeName string, builder ClientBuilder) {
	clientRegistryMu.Lock()
	defer clientRegistryMu.Unlock()
	clientRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupClientBuilder(typeName string) (ClientBuilder, bool) {
	clientRegistryMu.RLock()
	defer clientRegistryMu.RUnlock()
	builder, ok := clientRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads account configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exchange config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read exchange config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal exchange config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Accounts == nil {
		c.Accounts = make(map[string]*AccountConfig)
	}
	for name, account := range c.Accounts {
		if account == nil {
			account = &AccountConfig{}
			c.Accounts[name] = account
		}
		account.expandEnv()
		if err := account.parseDurations(name); err != nil {
			return err
		}
	}
	return nil
}

func (a *AccountConfig) expandEnv() {
	a.Type = strings.TrimSpace(os.ExpandEnv(a.Type))
	a.APIKey = strings.TrimSpace(os.ExpandEnv(a.APIKey))
	a.APISecret = strings.TrimSpace(os.ExpandEnv(a.APISecret))
	a.Passphrase = strings.TrimSpace(os.ExpandEnv(a.Passphrase))
	a.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(a.TimeoutRaw))
}

func (a *AccountConfig) parseDurations(name string) error {
	if a.TimeoutRaw == "" {
		a.Timeout = 0
		return nil
	}
	d, err := time.ParseDuration(a.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("exchange account %s: invalid timeout %q: %w", name, a.TimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("exchange account %s: timeout must be positive, got %s", name, d)
	}
	a.Timeout = d
	return nil
}

// Validate ensures all accounts have sane configuration.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("exchange config: accounts cannot be empty")
	}
	for name, account := range c.Accounts {
		if _, err := ParseAccountID(name); err != nil {
			return fmt.Errorf("exchange config: account key %q must be of the form Exchange0: %w", name, err)
		}
		if err := account.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (a *AccountConfig) validate(name string) error {
	if a == nil {
		return fmt.Errorf("exchange config: account %s is nil", name)
	}
	if strings.TrimSpace(a.Type) == "" {
		return fmt.Errorf("exchange config: account %s must specify type", name)
	}
	if _, ok := lookupClientBuilder(a.Type); !ok {
		return fmt.Errorf("exchange config: account %s has unsupported type %q", name, a.Type)
	}
	if len(a.Pairs) == 0 {
		return fmt.Errorf("exchange config: account %s must list at least one pair", name)
	}
	if _, err := a.CurrencyPairs(); err != nil {
		return fmt.Errorf("exchange config: account %s: %w", name, err)
	}
	return nil
}

// BuildClients instantiates adapters according to the configuration.
func (c *Config) BuildClients() (map[AccountID]Client, error) {
	result := make(map[AccountID]Client, len(c.Accounts))
	for name, accountCfg := range c.Accounts {
		account, err := ParseAccountID(name)
		if err != nil {
			return nil, err
		}
		builder, ok := lookupClientBuilder(accountCfg.Type)
		if !ok {
			return nil, fmt.Errorf("exchange account %s: unsupported type %q", name, accountCfg.Type)
		}
		client, err := builder(account, accountCfg)
		if err != nil {
			return nil, fmt.Errorf("exchange account %s: %w", name, err)
		}
		result[account] = client
	}
	return result, nil
}
