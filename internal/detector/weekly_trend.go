package detector

import (
	"context"
	"fmt"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// WeeklyTrendConfig tunes the week-to-date projection.
type WeeklyTrendConfig struct {
	PriorWeeks         int     `mapstructure:"prior_weeks"`
	MinPriorWeeks      int     `mapstructure:"min_prior_weeks"`
	ShortfallPct       float64 `mapstructure:"shortfall_pct"`
	ShortfallPoints    int     `mapstructure:"shortfall_points"`
	SevereShortfallPct float64 `mapstructure:"severe_shortfall_pct"`
	SeverePoints       int     `mapstructure:"severe_points"`
	RunningShare       float64 `mapstructure:"running_share"`
	MinDaysElapsed     int     `mapstructure:"min_days_elapsed"`
	RunningPoints      int     `mapstructure:"running_points"`
	Cap                int     `mapstructure:"cap"`
}

func DefaultWeeklyTrendConfig() WeeklyTrendConfig {
	return WeeklyTrendConfig{
		PriorWeeks:         4,
		MinPriorWeeks:      3,
		ShortfallPct:       20,
		ShortfallPoints:    30,
		SevereShortfallPct: 35,
		SeverePoints:       15,
		RunningShare:       0.5,
		MinDaysElapsed:     4,
		RunningPoints:      10,
		Cap:                35,
	}
}

// WeeklyTrend projects the Monday-to-date total to a full week and compares it with prior weeks.
type WeeklyTrend struct {
	cfg      WeeklyTrendConfig
	currency string
}

func NewWeeklyTrend(cfg WeeklyTrendConfig, currency string) *WeeklyTrend {
	return &WeeklyTrend{cfg: cfg, currency: currency}
}

func (w *WeeklyTrend) Name() string { return NameWeeklyTrend }

func (w *WeeklyTrend) Detect(_ context.Context, in Input) (models.DetectorResult, error) {
	const algorithm = "weekly_trends"

	date := models.Day(in.Date)
	elapsed := models.WeekdayIndex(date) + 1
	weekStart := date.AddDate(0, 0, -(elapsed - 1))

	thisWeek := aggregate.Range(in.Table, weekStart, date)
	if len(thisWeek) == 0 {
		return models.Unanalyzed(algorithm, "No transactions this week yet"), nil
	}

	var priorTotals []float64
	for i := 1; i <= w.cfg.PriorWeeks; i++ {
		start := weekStart.AddDate(0, 0, -7*i)
		rows := aggregate.Range(in.Table, start, start.AddDate(0, 0, 6))
		if len(rows) > 0 {
			priorTotals = append(priorTotals, aggregate.Sum(rows, aggregate.Amount))
		}
	}
	if len(priorTotals) < w.cfg.MinPriorWeeks {
		return models.Unanalyzed(algorithm,
			fmt.Sprintf("Insufficient historical weeks (need at least %d)", w.cfg.MinPriorWeeks)), nil
	}

	baseline := aggregate.Summarize(priorTotals).Mean
	total := aggregate.Sum(thisWeek, aggregate.Amount)
	projected := total / float64(elapsed) * 7

	score := 0
	messages := []string{}
	alert := false
	var shortfall float64

	if baseline > 0 {
		shortfall = (baseline - projected) / baseline * 100

		if shortfall > w.cfg.ShortfallPct {
			score += w.cfg.ShortfallPoints
			alert = true
			messages = append(messages,
				fmt.Sprintf("Week projected at %s", money(w.currency, projected)),
				fmt.Sprintf("   Average weekly: %s", money(w.currency, baseline)),
				fmt.Sprintf("   On track for %.0f%% below normal", shortfall),
			)
		}
		if shortfall > w.cfg.SevereShortfallPct {
			score += w.cfg.SeverePoints
			messages = append(messages, "   CRITICAL: Sustained major underperformance")
		}
		if total < baseline*w.cfg.RunningShare && elapsed >= w.cfg.MinDaysElapsed {
			score += w.cfg.RunningPoints
			messages = append(messages, "   Already significantly below weekly average")
		}
	}

	return models.DetectorResult{
		Algorithm:  algorithm,
		RiskScore:  capScore(score, w.cfg.Cap),
		Alert:      alert,
		Messages:   messages,
		CanAnalyze: true,
		Metrics: map[string]float64{
			"this_week_total":      total,
			"projected_week_total": projected,
			"avg_weekly_sales":     baseline,
			"days_elapsed":         float64(elapsed),
			"shortfall_pct":        shortfall,
			"prior_weeks":          float64(len(priorTotals)),
		},
	}, nil
}
