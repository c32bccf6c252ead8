package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/pharmguard/internal/detector"
	"github.com/rewired-gh/pharmguard/internal/monitor"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PHARMGUARD_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "PHARMGUARD"

// Config represents the complete application configuration
type Config struct {
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Detectors detector.Config `mapstructure:"detectors"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AnalysisConfig holds per-run analysis options
type AnalysisConfig struct {
	PharmacyName      string   `mapstructure:"pharmacy_name"`
	BranchID          string   `mapstructure:"branch_id"`
	HighValueProducts []string `mapstructure:"high_value_products"` // empty = auto-detect
	Workers           int      `mapstructure:"workers"`             // 0 = one per detector
	TopDays           int      `mapstructure:"top_days"`
}

// RiskConfig holds combiner configuration
type RiskConfig struct {
	AlertThreshold int `mapstructure:"alert_threshold"`
	TopK           int `mapstructure:"top_k"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath         string `mapstructure:"db_path"`
	MaxAssessments int    `mapstructure:"max_assessments"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	SendSummary    bool          `mapstructure:"send_summary"`
}

// MetricsConfig holds Prometheus textfile export configuration
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply even when the file omits it
func setDefaults(v *viper.Viper) {
	v.SetDefault("analysis.pharmacy_name", "PharmGuard Pharmacy")
	v.SetDefault("analysis.branch_id", "")
	v.SetDefault("analysis.high_value_products", []string{})
	v.SetDefault("analysis.workers", 0)
	v.SetDefault("analysis.top_days", 10)

	d := detector.DefaultConfig()
	v.SetDefault("detectors.currency", d.Currency)

	ds := d.DailySales
	v.SetDefault("detectors.daily_sales.history_days", ds.HistoryDays)
	v.SetDefault("detectors.daily_sales.min_same_weekday_days", ds.MinSameWeekdayDays)
	v.SetDefault("detectors.daily_sales.drop_z", ds.DropZ)
	v.SetDefault("detectors.daily_sales.drop_points", ds.DropPoints)
	v.SetDefault("detectors.daily_sales.severe_z", ds.SevereZ)
	v.SetDefault("detectors.daily_sales.severe_points", ds.SeverePoints)
	v.SetDefault("detectors.daily_sales.transaction_ratio", ds.TxRatio)
	v.SetDefault("detectors.daily_sales.transaction_points", ds.TxPoints)
	v.SetDefault("detectors.daily_sales.low_weekday_transactions", ds.LowWeekdayTx)
	v.SetDefault("detectors.daily_sales.low_weekday_points", ds.LowWeekdayPoints)
	v.SetDefault("detectors.daily_sales.cap", ds.Cap)

	hv := d.HighValue
	v.SetDefault("detectors.high_value.price_threshold", hv.PriceThreshold)
	v.SetDefault("detectors.high_value.history_days", hv.HistoryDays)
	v.SetDefault("detectors.high_value.quantity_ratio", hv.QtyRatio)
	v.SetDefault("detectors.high_value.quantity_points", hv.QtyPoints)
	v.SetDefault("detectors.high_value.zero_sale_min_mean", hv.ZeroSaleMinMean)
	v.SetDefault("detectors.high_value.zero_sale_points", hv.ZeroSalePoints)
	v.SetDefault("detectors.high_value.value_ratio", hv.ValueRatio)
	v.SetDefault("detectors.high_value.value_points", hv.ValuePoints)
	v.SetDefault("detectors.high_value.unsold_share", hv.UnsoldShare)
	v.SetDefault("detectors.high_value.unsold_points", hv.UnsoldPoints)
	v.SetDefault("detectors.high_value.cap", hv.Cap)

	pm := d.ProductMix
	v.SetDefault("detectors.product_mix.history_days", pm.HistoryDays)
	v.SetDefault("detectors.product_mix.average_ratio", pm.AvgRatio)
	v.SetDefault("detectors.product_mix.average_points", pm.AvgPoints)
	v.SetDefault("detectors.product_mix.small_threshold", pm.SmallThreshold)
	v.SetDefault("detectors.product_mix.min_transactions", pm.MinTransactions)
	v.SetDefault("detectors.product_mix.small_share", pm.SmallShare)
	v.SetDefault("detectors.product_mix.small_points", pm.SmallPoints)
	v.SetDefault("detectors.product_mix.large_threshold", pm.LargeThreshold)
	v.SetDefault("detectors.product_mix.min_hist_large_share", pm.MinHistLargeShare)
	v.SetDefault("detectors.product_mix.large_drop_ratio", pm.LargeDropRatio)
	v.SetDefault("detectors.product_mix.large_points", pm.LargePoints)
	v.SetDefault("detectors.product_mix.cap", pm.Cap)

	wt := d.WeeklyTrend
	v.SetDefault("detectors.weekly_trend.prior_weeks", wt.PriorWeeks)
	v.SetDefault("detectors.weekly_trend.min_prior_weeks", wt.MinPriorWeeks)
	v.SetDefault("detectors.weekly_trend.shortfall_pct", wt.ShortfallPct)
	v.SetDefault("detectors.weekly_trend.shortfall_points", wt.ShortfallPoints)
	v.SetDefault("detectors.weekly_trend.severe_shortfall_pct", wt.SevereShortfallPct)
	v.SetDefault("detectors.weekly_trend.severe_points", wt.SeverePoints)
	v.SetDefault("detectors.weekly_trend.running_share", wt.RunningShare)
	v.SetDefault("detectors.weekly_trend.min_days_elapsed", wt.MinDaysElapsed)
	v.SetDefault("detectors.weekly_trend.running_points", wt.RunningPoints)
	v.SetDefault("detectors.weekly_trend.cap", wt.Cap)

	ol := d.Outlier
	v.SetDefault("detectors.outlier.min_training_days", ol.MinTrainingDays)
	v.SetDefault("detectors.outlier.contamination", ol.Contamination)
	v.SetDefault("detectors.outlier.trees", ol.Trees)
	v.SetDefault("detectors.outlier.max_samples", ol.MaxSamples)
	v.SetDefault("detectors.outlier.seed", ol.Seed)
	v.SetDefault("detectors.outlier.score_offset", ol.ScoreOffset)
	v.SetDefault("detectors.outlier.score_scale", ol.ScoreScale)
	v.SetDefault("detectors.outlier.cap", ol.Cap)
	v.SetDefault("detectors.outlier.large_threshold", ol.LargeThreshold)
	v.SetDefault("detectors.outlier.small_threshold", ol.SmallThreshold)
	v.SetDefault("detectors.outlier.top_n", ol.TopN)
	v.SetDefault("detectors.outlier.artifact_name", ol.ArtifactName)

	m := monitor.DefaultConfig()
	v.SetDefault("risk.alert_threshold", m.AlertThreshold)
	v.SetDefault("risk.top_k", m.TopK)

	v.SetDefault("storage.db_path", "./data/pharmguard.db")
	v.SetDefault("storage.max_assessments", 5000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")
	v.SetDefault("telegram.send_summary", false)

	v.SetDefault("metrics.textfile_path", "")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Analysis config
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("analysis.workers must not be negative")
	}
	if c.Analysis.TopDays < 1 {
		return fmt.Errorf("analysis.top_days must be at least 1")
	}

	// Validate Detectors config
	d := c.Detectors
	if d.Currency == "" {
		return fmt.Errorf("detectors.currency is required")
	}
	if d.DailySales.HistoryDays < 7 {
		return fmt.Errorf("detectors.daily_sales.history_days must be at least 7")
	}
	if d.DailySales.MinSameWeekdayDays < 2 {
		return fmt.Errorf("detectors.daily_sales.min_same_weekday_days must be at least 2")
	}
	if d.DailySales.SevereZ > d.DailySales.DropZ {
		return fmt.Errorf("detectors.daily_sales.severe_z must not exceed drop_z")
	}
	if d.HighValue.PriceThreshold <= 0 {
		return fmt.Errorf("detectors.high_value.price_threshold must be positive")
	}
	if d.HighValue.HistoryDays < 1 || d.ProductMix.HistoryDays < 1 {
		return fmt.Errorf("detectors.high_value.history_days and detectors.product_mix.history_days must be at least 1")
	}
	if d.WeeklyTrend.PriorWeeks < 1 || d.WeeklyTrend.MinPriorWeeks > d.WeeklyTrend.PriorWeeks {
		return fmt.Errorf("detectors.weekly_trend.min_prior_weeks must be between 1 and prior_weeks")
	}
	if d.Outlier.Contamination <= 0 || d.Outlier.Contamination > 0.5 {
		return fmt.Errorf("detectors.outlier.contamination must be in (0, 0.5]")
	}
	if d.Outlier.Trees < 1 {
		return fmt.Errorf("detectors.outlier.trees must be at least 1")
	}
	if d.Outlier.MaxSamples < 2 {
		return fmt.Errorf("detectors.outlier.max_samples must be at least 2")
	}
	if d.Outlier.MinTrainingDays < 2 {
		return fmt.Errorf("detectors.outlier.min_training_days must be at least 2")
	}
	if d.Outlier.ArtifactName == "" {
		return fmt.Errorf("detectors.outlier.artifact_name is required")
	}
	caps := map[string]int{
		"daily_sales":  d.DailySales.Cap,
		"high_value":   d.HighValue.Cap,
		"product_mix":  d.ProductMix.Cap,
		"weekly_trend": d.WeeklyTrend.Cap,
		"outlier":      d.Outlier.Cap,
	}
	for name, limit := range caps {
		if limit < 0 || limit > 100 {
			return fmt.Errorf("detectors.%s.cap must be between 0 and 100", name)
		}
	}

	// Validate Risk config
	if c.Risk.AlertThreshold < 0 || c.Risk.AlertThreshold > 100 {
		return fmt.Errorf("risk.alert_threshold must be between 0 and 100")
	}
	if c.Risk.TopK < 1 {
		return fmt.Errorf("risk.top_k must be at least 1")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxAssessments < 1 {
		return fmt.Errorf("storage.max_assessments must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// MonitorConfig returns the combiner configuration
func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		AlertThreshold: c.Risk.AlertThreshold,
		Workers:        c.Analysis.Workers,
		TopK:           c.Risk.TopK,
	}
}

// MonitorOptions returns the per-run detector pass-throughs
func (c *Config) MonitorOptions() monitor.Options {
	return monitor.Options{
		BranchID:          c.Analysis.BranchID,
		HighValueProducts: c.Analysis.HighValueProducts,
	}
}
