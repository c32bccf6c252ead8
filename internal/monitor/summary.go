package monitor

import (
	"math"
	"time"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/detector"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// DayRisk is one row of the riskiest-days table.
type DayRisk struct {
	Date          time.Time        `json:"date" yaml:"date"`
	Score         int              `json:"risk_score" yaml:"risk_score"`
	Level         models.RiskLevel `json:"risk_level" yaml:"risk_level"`
	DailySales    float64          `json:"daily_sales" yaml:"daily_sales"`
	Transactions  int              `json:"transactions" yaml:"transactions"`
	RequiresAlert bool             `json:"requires_alert" yaml:"requires_alert"`
}

type LevelCount struct {
	Level models.RiskLevel `json:"level" yaml:"level"`
	Count int              `json:"count" yaml:"count"`
}

// ScanSummary aggregates a scan over many days.
type ScanSummary struct {
	Days         int          `json:"days" yaml:"days"`
	AverageScore float64      `json:"average_score" yaml:"average_score"`
	MaxScore     int          `json:"max_score" yaml:"max_score"`
	AlertDays    int          `json:"alert_days" yaml:"alert_days"`
	Levels       []LevelCount `json:"levels" yaml:"levels"`
	TopDays      []DayRisk    `json:"top_days" yaml:"top_days"`
	AlertDates   []time.Time  `json:"alert_dates" yaml:"alert_dates"`
}

// levelOrder is the display order of the level distribution, most severe first.
var levelOrder = []models.RiskLevel{models.RiskCritical, models.RiskHigh, models.RiskMedium, models.RiskLow}

// Summarize folds scan results into a ScanSummary with at most topN riskiest days.
func Summarize(assessments []*models.Assessment, topN int) ScanSummary {
	s := ScanSummary{Days: len(assessments), AlertDates: []time.Time{}}

	var scores aggregate.Welford
	counts := make(map[models.RiskLevel]int)
	for _, a := range assessments {
		scores.Add(float64(a.TotalRiskScore))
		s.MaxScore = int(math.Max(float64(s.MaxScore), float64(a.TotalRiskScore)))
		counts[a.RiskLevel]++
		if a.RequiresAlert {
			s.AlertDays++
			s.AlertDates = append(s.AlertDates, a.Date)
		}
	}
	s.AverageScore = scores.Mean

	for _, level := range levelOrder {
		s.Levels = append(s.Levels, LevelCount{Level: level, Count: counts[level]})
	}

	ranked := append([]*models.Assessment(nil), assessments...)
	sortByRisk(ranked)
	if topN >= 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	s.TopDays = make([]DayRisk, 0, len(ranked))
	for _, a := range ranked {
		s.TopDays = append(s.TopDays, dayRisk(a))
	}
	return s
}

func dayRisk(a *models.Assessment) DayRisk {
	d := DayRisk{
		Date:          a.Date,
		Score:         a.TotalRiskScore,
		Level:         a.RiskLevel,
		RequiresAlert: a.RequiresAlert,
	}
	if res, ok := a.Result(detector.NameDailySales); ok {
		d.DailySales = res.Metrics["today_sales"]
		d.Transactions = int(res.Metrics["today_transactions"])
	}
	return d
}
