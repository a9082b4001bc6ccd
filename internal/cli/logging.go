package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"tradecore/internal/config"
)

// ConfigSummaryLines returns human readable lines describing the loaded
// engine configuration.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Admission default: %d req / %ds", cfg.Admission.Default.Requests, cfg.Admission.Default.PerSeconds),
		fmt.Sprintf("Admission overrides: %d", len(cfg.Admission.Overrides)),
		fmt.Sprintf("Bus capacity: %d events", cfg.Bus.Capacity),
		fmt.Sprintf("Session renewal: every %dm", cfg.Session.RenewMinutes),
		fmt.Sprintf("Journal: %s", journalLine(cfg)),
		fmt.Sprintf("Exchange config: %s", sectionLine(cfg)),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func journalLine(cfg *config.Config) string {
	if cfg.Journal.Disabled {
		return "disabled"
	}
	return cfg.Journal.Dir
}

func sectionLine(cfg *config.Config) string {
	switch {
	case strings.TrimSpace(cfg.Exchange.File) != "":
		return cfg.Exchange.File
	case cfg.Exchange.Value != nil:
		return "inline"
	default:
		return "not configured"
	}
}
