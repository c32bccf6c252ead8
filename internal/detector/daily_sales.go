package detector

import (
	"context"
	"fmt"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/logger"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// DailySalesConfig tunes the same-weekday z-score comparison.
type DailySalesConfig struct {
	HistoryDays        int     `mapstructure:"history_days"`
	MinSameWeekdayDays int     `mapstructure:"min_same_weekday_days"`
	DropZ              float64 `mapstructure:"drop_z"`
	DropPoints         int     `mapstructure:"drop_points"`
	SevereZ            float64 `mapstructure:"severe_z"`
	SeverePoints       int     `mapstructure:"severe_points"`
	TxRatio            float64 `mapstructure:"transaction_ratio"`
	TxPoints           int     `mapstructure:"transaction_points"`
	LowWeekdayTx       int     `mapstructure:"low_weekday_transactions"`
	LowWeekdayPoints   int     `mapstructure:"low_weekday_points"`
	Cap                int     `mapstructure:"cap"`
}

func DefaultDailySalesConfig() DailySalesConfig {
	return DailySalesConfig{
		HistoryDays:        90,
		MinSameWeekdayDays: 4,
		DropZ:              -1.5,
		DropPoints:         30,
		SevereZ:            -2.0,
		SeverePoints:       15,
		TxRatio:            0.6,
		TxPoints:           15,
		LowWeekdayTx:       50,
		LowWeekdayPoints:   10,
		Cap:                40,
	}
}

// DailySales compares today's sales with the same weekday over the trailing history.
type DailySales struct {
	cfg      DailySalesConfig
	currency string
}

func NewDailySales(cfg DailySalesConfig, currency string) *DailySales {
	return &DailySales{cfg: cfg, currency: currency}
}

func (d *DailySales) Name() string { return NameDailySales }

func (d *DailySales) Detect(_ context.Context, in Input) (models.DetectorResult, error) {
	branch := aggregate.ByBranch(in.Table, in.BranchID)
	today := aggregate.On(in.Table, in.Date, branch)
	weekday := in.Date.Weekday().String()
	weekdayIdx := models.WeekdayIndex(in.Date)

	todaySales := aggregate.Sum(today, aggregate.Amount)
	todayTx := len(today)

	res := models.DetectorResult{
		Algorithm:  "daily_sales_anomaly",
		CanAnalyze: true,
		Metrics: map[string]float64{
			"today_sales":        todaySales,
			"today_transactions": float64(todayTx),
			"day_of_week":        float64(weekdayIdx),
		},
	}

	if todayTx == 0 {
		res.Messages = []string{"No transactions today yet"}
		return res, nil
	}

	if len(aggregate.History(in.Table, in.Date, d.cfg.HistoryDays, branch)) == 0 {
		res.Messages = []string{"No historical data for comparison (first month of operations)"}
		return res, nil
	}

	sameDay := aggregate.History(in.Table, in.Date, d.cfg.HistoryDays, branch, aggregate.ByWeekday(weekdayIdx))
	daily := aggregate.ByDay(sameDay, aggregate.Amount)
	if len(daily) < d.cfg.MinSameWeekdayDays {
		res.Messages = []string{fmt.Sprintf("Limited history for %s comparison (only %d past %ss)", weekday, len(daily), weekday)}
		return res, nil
	}

	sales := aggregate.Summarize(aggregate.Sums(daily))
	txs := aggregate.Summarize(aggregate.Counts(daily))

	var z float64
	if std := sales.StdDev(); std > 0 {
		z = (todaySales - sales.Mean) / std
	}
	res.Metrics["avg_sales"] = sales.Mean
	res.Metrics["avg_transactions"] = txs.Mean
	res.Metrics["z_score"] = z

	score := 0
	messages := []string{}
	alert := false

	if z < d.cfg.DropZ {
		drop := (sales.Mean - todaySales) / sales.Mean * 100
		score += d.cfg.DropPoints
		alert = true
		messages = append(messages,
			fmt.Sprintf("Sales %.0f%% below normal for %s", drop, weekday),
			fmt.Sprintf("   Today: %s | Average: %s", money(d.currency, todaySales), money(d.currency, sales.Mean)),
		)
	}

	if z < d.cfg.SevereZ {
		score += d.cfg.SeverePoints
		messages = append(messages, fmt.Sprintf("   More than %g standard deviations below normal", -d.cfg.SevereZ))
	}

	if txs.Mean > 0 && float64(todayTx) < txs.Mean*d.cfg.TxRatio {
		score += d.cfg.TxPoints
		alert = true
		messages = append(messages, fmt.Sprintf("Only %d transactions (avg: %.0f)", todayTx, txs.Mean))
	}

	if todayTx < d.cfg.LowWeekdayTx && models.IsWeekday(in.Date) {
		score += d.cfg.LowWeekdayPoints
		messages = append(messages, "Suspiciously low transaction count for weekday")
	}

	res.RiskScore = capScore(score, d.cfg.Cap)
	res.Alert = alert
	res.Messages = messages

	logger.Debug("daily sales %s: today=%.2f mean=%.2f z=%.3f score=%d",
		in.Date.Format(models.DateLayout), todaySales, sales.Mean, z, res.RiskScore)
	return res, nil
}
