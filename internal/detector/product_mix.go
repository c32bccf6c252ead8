package detector

import (
	"context"
	"fmt"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// ProductMixConfig tunes the basket-value shift checks.
type ProductMixConfig struct {
	HistoryDays       int     `mapstructure:"history_days"`
	AvgRatio          float64 `mapstructure:"average_ratio"`
	AvgPoints         int     `mapstructure:"average_points"`
	SmallThreshold    float64 `mapstructure:"small_threshold"`
	MinTransactions   int     `mapstructure:"min_transactions"`
	SmallShare        float64 `mapstructure:"small_share"`
	SmallPoints       int     `mapstructure:"small_points"`
	LargeThreshold    float64 `mapstructure:"large_threshold"`
	MinHistLargeShare float64 `mapstructure:"min_hist_large_share"`
	LargeDropRatio    float64 `mapstructure:"large_drop_ratio"`
	LargePoints       int     `mapstructure:"large_points"`
	Cap               int     `mapstructure:"cap"`
}

func DefaultProductMixConfig() ProductMixConfig {
	return ProductMixConfig{
		HistoryDays:       30,
		AvgRatio:          0.6,
		AvgPoints:         25,
		SmallThreshold:    10,
		MinTransactions:   10,
		SmallShare:        0.5,
		SmallPoints:       15,
		LargeThreshold:    50,
		MinHistLargeShare: 0.1,
		LargeDropRatio:    0.5,
		LargePoints:       15,
		Cap:               30,
	}
}

// ProductMix detects a shift towards cheaper baskets.
type ProductMix struct {
	cfg      ProductMixConfig
	currency string
}

func NewProductMix(cfg ProductMixConfig, currency string) *ProductMix {
	return &ProductMix{cfg: cfg, currency: currency}
}

func (p *ProductMix) Name() string { return NameProductMix }

func (p *ProductMix) Detect(_ context.Context, in Input) (models.DetectorResult, error) {
	const algorithm = "product_mix_analysis"

	today := aggregate.On(in.Table, in.Date)
	if len(today) == 0 {
		return models.Unanalyzed(algorithm, "No transactions today"), nil
	}
	hist := aggregate.History(in.Table, in.Date, p.cfg.HistoryDays)
	if len(hist) == 0 {
		return models.Unanalyzed(algorithm, "Insufficient historical data"), nil
	}

	histAvg := aggregate.Summarize(aggregate.Means(aggregate.ByDay(hist, aggregate.Amount))).Mean
	todayAvg := aggregate.Mean(today, aggregate.Amount)

	score := 0
	messages := []string{}
	alert := false

	if histAvg > 0 {
		ratio := todayAvg / histAvg
		if ratio < p.cfg.AvgRatio {
			score += p.cfg.AvgPoints
			alert = true
			messages = append(messages,
				fmt.Sprintf("Average transaction value down %.0f%%", (1-ratio)*100),
				fmt.Sprintf("   Today: %s | Avg: %s", moneyCents(p.currency, todayAvg), moneyCents(p.currency, histAvg)),
				"   Possible shift to cheaper products",
			)
		}
	}

	isSmall := func(t models.Transaction) bool { return t.Amount < p.cfg.SmallThreshold }
	isLarge := func(t models.Transaction) bool { return t.Amount >= p.cfg.LargeThreshold }

	small := aggregate.Count(today, isSmall)
	if len(today) >= p.cfg.MinTransactions && float64(small) > float64(len(today))*p.cfg.SmallShare {
		score += p.cfg.SmallPoints
		alert = true
		messages = append(messages, fmt.Sprintf("%d/%d transactions under %s",
			small, len(today), money(p.currency, p.cfg.SmallThreshold)))
	}

	large := aggregate.Count(today, isLarge)
	histLargeShare := float64(aggregate.Count(hist, isLarge)) / float64(len(hist))
	todayLargeShare := float64(large) / float64(len(today))
	if histLargeShare > p.cfg.MinHistLargeShare && todayLargeShare < histLargeShare*p.cfg.LargeDropRatio {
		score += p.cfg.LargePoints
		alert = true
		messages = append(messages,
			fmt.Sprintf("Only %d high-value sales (>=%s)", large, money(p.currency, p.cfg.LargeThreshold)),
			fmt.Sprintf("   Normal ratio: %.0f%% | Today: %.0f%%", histLargeShare*100, todayLargeShare*100),
		)
	}

	return models.DetectorResult{
		Algorithm:  algorithm,
		RiskScore:  capScore(score, p.cfg.Cap),
		Alert:      alert,
		Messages:   messages,
		CanAnalyze: true,
		Metrics: map[string]float64{
			"today_avg_transaction": todayAvg,
			"hist_avg_transaction":  histAvg,
			"small_transactions":    float64(small),
			"high_transactions":     float64(large),
			"hist_high_ratio":       histLargeShare,
			"today_high_ratio":      todayLargeShare,
		},
	}, nil
}
