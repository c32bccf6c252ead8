package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
analysis:
  pharmacy_name: "Korle Bu Pharmacy"
  branch_id: "accra-central"
  high_value_products:
    - Insulin
    - Augmentin

detectors:
  currency: "GHS"
  daily_sales:
    history_days: 60
  outlier:
    contamination: 0.05

risk:
  alert_threshold: 45

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true
  retry_delay_base: 500ms

storage:
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Analysis.PharmacyName != "Korle Bu Pharmacy" {
		t.Errorf("Unexpected pharmacy name: %q", cfg.Analysis.PharmacyName)
	}
	if len(cfg.Analysis.HighValueProducts) != 2 {
		t.Errorf("Expected 2 high-value products, got %d", len(cfg.Analysis.HighValueProducts))
	}
	if cfg.Detectors.DailySales.HistoryDays != 60 {
		t.Errorf("Unexpected history days: %d", cfg.Detectors.DailySales.HistoryDays)
	}
	// keys absent from the file keep their defaults
	if cfg.Detectors.DailySales.DropZ != -1.5 {
		t.Errorf("Unexpected drop_z default: %v", cfg.Detectors.DailySales.DropZ)
	}
	if cfg.Detectors.HighValue.Cap != 35 {
		t.Errorf("Unexpected high value cap: %d", cfg.Detectors.HighValue.Cap)
	}
	if cfg.Detectors.Outlier.Contamination != 0.05 {
		t.Errorf("Unexpected contamination: %v", cfg.Detectors.Outlier.Contamination)
	}
	if cfg.Detectors.Outlier.Seed != 42 {
		t.Errorf("Unexpected seed: %d", cfg.Detectors.Outlier.Seed)
	}
	if cfg.Risk.AlertThreshold != 45 {
		t.Errorf("Unexpected alert threshold: %d", cfg.Risk.AlertThreshold)
	}
	if cfg.Telegram.RetryDelayBase != 500*time.Millisecond {
		t.Errorf("Unexpected retry delay: %v", cfg.Telegram.RetryDelayBase)
	}
	if cfg.Storage.MaxAssessments != 5000 {
		t.Errorf("Unexpected max assessments: %d", cfg.Storage.MaxAssessments)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	mc := cfg.MonitorConfig()
	if mc.AlertThreshold != 45 || mc.TopK != 10 {
		t.Errorf("Unexpected monitor config: %+v", mc)
	}
	if opts := cfg.MonitorOptions(); opts.BranchID != "accra-central" {
		t.Errorf("Unexpected branch option: %q", opts.BranchID)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Detectors.Currency != "GHS" {
		t.Errorf("Unexpected currency: %q", cfg.Detectors.Currency)
	}
	if cfg.Detectors.DailySales.Cap != 40 || cfg.Detectors.ProductMix.Cap != 30 {
		t.Errorf("Unexpected caps: %+v", cfg.Detectors)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PHARMGUARD_TELEGRAM_CHAT_ID", "from-env")
	t.Setenv("PHARMGUARD_DETECTORS_HIGH_VALUE_PRICE_THRESHOLD", "75")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.ChatID != "from-env" {
		t.Errorf("Unexpected chat id: %q", cfg.Telegram.ChatID)
	}
	if cfg.Detectors.HighValue.PriceThreshold != 75 {
		t.Errorf("Unexpected price threshold: %v", cfg.Detectors.HighValue.PriceThreshold)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/pharmguard.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing telegram token when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "x" }},
		{"missing telegram chat when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.BotToken = "x" }},
		{"contamination out of range", func(c *Config) { c.Detectors.Outlier.Contamination = 0.8 }},
		{"cap above 100", func(c *Config) { c.Detectors.WeeklyTrend.Cap = 120 }},
		{"severe z above drop z", func(c *Config) { c.Detectors.DailySales.SevereZ = -1.0 }},
		{"alert threshold out of range", func(c *Config) { c.Risk.AlertThreshold = 101 }},
		{"negative workers", func(c *Config) { c.Analysis.Workers = -1 }},
		{"empty db path", func(c *Config) { c.Storage.DBPath = "" }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"min prior weeks above prior weeks", func(c *Config) { c.Detectors.WeeklyTrend.MinPriorWeeks = 5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected an error")
			}
		})
	}
}
