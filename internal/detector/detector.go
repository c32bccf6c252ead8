// Package detector holds the independent per-day anomaly detectors.
// Each one reads the shared transaction table and returns a bounded risk contribution with explanations.
package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// Registration names, in combiner order.
const (
	NameDailySales  = "daily_sales"
	NameHighValue   = "high_value_products"
	NameProductMix  = "product_mix"
	NameWeeklyTrend = "weekly_trends"
	NameOutlier     = "ml_anomaly"
)

// Input is what every detector receives for one analysis.
type Input struct {
	Date              time.Time
	Table             *models.Table
	BranchID          string
	HighValueProducts []string
}

// Detector scores one day. A returned error means the detector failed unexpectedly;
// insufficient history is reported through CanAnalyze instead.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Input) (models.DetectorResult, error)
}

// Config groups the tunable thresholds of all detectors.
type Config struct {
	Currency    string            `mapstructure:"currency"`
	DailySales  DailySalesConfig  `mapstructure:"daily_sales"`
	HighValue   HighValueConfig   `mapstructure:"high_value"`
	ProductMix  ProductMixConfig  `mapstructure:"product_mix"`
	WeeklyTrend WeeklyTrendConfig `mapstructure:"weekly_trend"`
	Outlier     OutlierConfig     `mapstructure:"outlier"`
}

func DefaultConfig() Config {
	return Config{
		Currency:    "GHS",
		DailySales:  DefaultDailySalesConfig(),
		HighValue:   DefaultHighValueConfig(),
		ProductMix:  DefaultProductMixConfig(),
		WeeklyTrend: DefaultWeeklyTrendConfig(),
		Outlier:     DefaultOutlierConfig(),
	}
}

// Standard builds the five detectors in registration order. The outlier detector is also returned
// so callers can retrain it explicitly.
func Standard(cfg Config, store ModelStore) ([]Detector, *Outlier) {
	outlier := NewOutlier(cfg.Outlier, store)
	return []Detector{
		NewDailySales(cfg.DailySales, cfg.Currency),
		NewHighValue(cfg.HighValue, cfg.Currency),
		NewProductMix(cfg.ProductMix, cfg.Currency),
		NewWeeklyTrend(cfg.WeeklyTrend, cfg.Currency),
		outlier,
	}, outlier
}

// capScore bounds an additive score to [0, ceiling].
func capScore(score, ceiling int) int {
	return models.ClampScore(score, 0, ceiling)
}

// money formats a whole-unit currency amount, e.g. "GHS 1,250".
func money(currency string, v float64) string {
	return fmt.Sprintf("%s %s", currency, humanize.Comma(int64(math.Round(v))))
}

// moneyCents formats an amount with two decimals, e.g. "GHS 12.50".
func moneyCents(currency string, v float64) string {
	return fmt.Sprintf("%s %s", currency, humanize.FormatFloat("#,###.##", v))
}
