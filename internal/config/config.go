package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/conf"

	"tradecore/pkg/admission"
	"tradecore/pkg/confkit"
	exchangepkg "tradecore/pkg/exchange"
)

// LimitConf is one admission budget in configuration form: Requests per
// PerSeconds window.
type LimitConf struct {
	Requests   int `json:",default=10"`
	PerSeconds int `json:",default=1"`
}

// AdmissionConf configures the request admission budgets. Default applies
// to every request type; Overrides replace it per type, keyed by the
// request type name (e.g. "CreateOrder").
type AdmissionConf struct {
	Default   LimitConf            `json:",optional"`
	Overrides map[string]LimitConf `json:",optional"`
}

// SessionConf configures listen-key session keep-alive.
type SessionConf struct {
	RenewMinutes int `json:",default=30"`
}

// BusConf configures the event fan-out bus.
type BusConf struct {
	Capacity int `json:",default=20000"`
}

// JournalConf configures the durable event log.
type JournalConf struct {
	Dir      string `json:",default=journal"`
	Disabled bool   `json:",optional"`
}

// Config is the engine's main configuration.
type Config struct {
	// Env indicates the running environment: test | dev | prod.
	Env       string        `json:",default=test"`
	Admission AdmissionConf `json:",optional"`
	Session   SessionConf   `json:",optional"`
	Bus       BusConf       `json:",optional"`
	Journal   JournalConf   `json:",optional"`

	Exchange confkit.Section[exchangepkg.Config] `json:",optional"`

	mainPath string
	baseDir  string
}

// IsTestEnv reports whether the engine runs in test mode.
func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

// MustLoad loads the configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads, validates, and hydrates the main configuration file.
func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Exchange.Hydrate(cfg.baseDir, exchangepkg.LoadConfig); err != nil {
		return nil, fmt.Errorf("load exchange config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if c.Bus.Capacity <= 0 {
		return errors.New("config: bus.capacity must be positive")
	}
	if c.Session.RenewMinutes <= 0 {
		return errors.New("config: session.renewMinutes must be positive")
	}
	return nil
}

func (c *Config) validateAdmission() error {
	if err := validateLimit("admission.default", c.Admission.Default); err != nil {
		return err
	}
	for name, limit := range c.Admission.Overrides {
		if _, ok := admission.ParseRequestType(name); !ok {
			return fmt.Errorf("config: admission.overrides has unknown request type %q", name)
		}
		if err := validateLimit("admission.overrides."+name, limit); err != nil {
			return err
		}
	}
	return nil
}

func validateLimit(path string, l LimitConf) error {
	if l.Requests <= 0 {
		return fmt.Errorf("config: %s.requests must be positive", path)
	}
	if l.PerSeconds <= 0 {
		return fmt.Errorf("config: %s.perSeconds must be positive", path)
	}
	return nil
}

// Limits materialises the configured admission budgets, one per request
// type, with overrides applied on top of the default.
func (c *Config) Limits() map[admission.RequestType]admission.Limit {
	limits := make(map[admission.RequestType]admission.Limit, len(admission.AllRequestTypes()))
	def := c.Admission.Default.limit()
	for _, kind := range admission.AllRequestTypes() {
		limits[kind] = def
	}
	for name, override := range c.Admission.Overrides {
		if kind, ok := admission.ParseRequestType(name); ok {
			limits[kind] = override.limit()
		}
	}
	return limits
}

func (l LimitConf) limit() admission.Limit {
	return admission.Limit{
		Requests: l.Requests,
		Per:      time.Duration(l.PerSeconds) * time.Second,
	}
}

// RenewInterval returns the session renewal period.
func (c *Config) RenewInterval() time.Duration {
	return time.Duration(c.Session.RenewMinutes) * time.Minute
}

// MainPath returns the absolute path of the loaded main config file.
func (c *Config) MainPath() string {
	return c.mainPath
}

// BaseDir returns the directory of the main config file.
func (c *Config) BaseDir() string {
	return c.baseDir
}
