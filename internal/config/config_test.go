package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/admission"
	_ "tradecore/pkg/exchange/sim"
)

const engineYAML = `
Env: test
Admission:
  Default:
    Requests: 20
    PerSeconds: 1
  Overrides:
    CreateOrder:
      Requests: 5
      PerSeconds: 2
Session:
  RenewMinutes: 15
Bus:
  Capacity: 512
Journal:
  Dir: journal
Exchange:
  File: exchange.yaml
`

const exchangeYAML = `
accounts:
  Sim0:
    type: sim
    pairs:
      - BTC/USDT
    channels:
      - depth
`

func writeConfig(t *testing.T, engine, exchange string) string {
	t.Helper()
	dir := t.TempDir()
	enginePath := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(enginePath, []byte(engine), 0o644))
	if exchange != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "exchange.yaml"), []byte(exchange), 0o644))
	}
	return enginePath
}

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	cfg, err := Load(writeConfig(t, engineYAML, exchangeYAML))
	require.NoError(t, err, "valid config should load")

	assert.Equal(t, "test", cfg.Env)
	assert.True(t, cfg.IsTestEnv())
	assert.Equal(t, 512, cfg.Bus.Capacity)
	assert.Equal(t, 15*time.Minute, cfg.RenewInterval())

	require.NotNil(t, cfg.Exchange.Value, "the exchange section should hydrate")
	assert.Contains(t, cfg.Exchange.Value.Accounts, "Sim0")

	limits := cfg.Limits()
	assert.Equal(t, admission.Limit{Requests: 5, Per: 2 * time.Second},
		limits[admission.RequestTypeCreateOrder], "the override should replace the default")
	assert.Equal(t, admission.Limit{Requests: 20, Per: time.Second},
		limits[admission.RequestTypeGetBalance], "unoverridden types keep the default")
	assert.Len(t, limits, len(admission.AllRequestTypes()), "every request type gets a budget")
}

func TestLoad_UnknownOverrideRefused(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	bad := `
Admission:
  Default:
    Requests: 10
    PerSeconds: 1
  Overrides:
    TeleportOrder:
      Requests: 1
      PerSeconds: 1
`
	_, err := Load(writeConfig(t, bad, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown request type")
}

func TestLoad_BadEnvRefused(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	_, err := Load(writeConfig(t, "Env: staging", ""))
	assert.Error(t, err)
}

func TestLoad_MissingExchangeFileRefused(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	_, err := Load(writeConfig(t, engineYAML, ""))
	assert.Error(t, err, "a dangling exchange file reference should fail loading")
}

func TestValidate_LimitBounds(t *testing.T) {
	cfg := &Config{
		Env:       "test",
		Admission: AdmissionConf{Default: LimitConf{Requests: 0, PerSeconds: 1}},
		Session:   SessionConf{RenewMinutes: 30},
		Bus:       BusConf{Capacity: 100},
	}
	assert.Error(t, cfg.Validate(), "zero request budget should be refused")

	cfg.Admission.Default = LimitConf{Requests: 1, PerSeconds: 0}
	assert.Error(t, cfg.Validate())

	cfg.Admission.Default = LimitConf{Requests: 1, PerSeconds: 1}
	cfg.Bus.Capacity = 0
	assert.Error(t, cfg.Validate())

	cfg.Bus.Capacity = 100
	cfg.Session.RenewMinutes = 0
	assert.Error(t, cfg.Validate())

	cfg.Session.RenewMinutes = 30
	assert.NoError(t, cfg.Validate())
}
