// Package monitor runs the registered detectors for a day and combines their results into one assessment.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/pharmguard/internal/detector"
	"github.com/rewired-gh/pharmguard/internal/logger"
	"github.com/rewired-gh/pharmguard/internal/models"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	AlertThreshold int
	Workers        int
	TopK           int
}

func DefaultConfig() Config {
	return Config{
		AlertThreshold: 40,
		Workers:        0,
		TopK:           10,
	}
}

// Options are the per-run pass-throughs to the detectors.
type Options struct {
	BranchID          string
	HighValueProducts []string
}

// Observer is notified of every assessment the monitor produces.
type Observer interface {
	ObserveAssessment(a *models.Assessment)
}

type Monitor struct {
	detectors []detector.Detector
	config    Config
	observer  Observer
}

// New registers detectors in the given order; that order fixes score summation and message order.
func New(detectors []detector.Detector, config Config) *Monitor {
	return &Monitor{
		detectors: detectors,
		config:    config,
	}
}

func (m *Monitor) SetObserver(o Observer) {
	m.observer = o
}

// Detectors returns the registration names in order.
func (m *Monitor) Detectors() []string {
	names := make([]string, len(m.detectors))
	for i, d := range m.detectors {
		names[i] = d.Name()
	}
	return names
}

func (m *Monitor) workers() int {
	if m.config.Workers > 0 {
		return m.config.Workers
	}
	return len(m.detectors)
}

// Assess runs every detector for date and combines the results.
// Only an unusable date or table is an error; detector failures become unanalyzed results.
func (m *Monitor) Assess(ctx context.Context, date time.Time, tbl *models.Table, opts Options) (*models.Assessment, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: analysis date is not set", models.ErrInvalidInput)
	}
	if tbl.Len() == 0 {
		return nil, fmt.Errorf("%w: transaction table is empty", models.ErrInvalidInput)
	}

	day := models.Day(date)
	in := detector.Input{
		Date:              day,
		Table:             tbl,
		BranchID:          opts.BranchID,
		HighValueProducts: opts.HighValueProducts,
	}

	results := make([]models.DetectorResult, len(m.detectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, d := range m.detectors {
		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := d.Detect(gctx, in)
			if err != nil {
				logger.Warn("Detector %s failed for %s: %v", d.Name(), day.Format(models.DateLayout), err)
				algorithm := res.Algorithm
				if algorithm == "" {
					algorithm = d.Name()
				}
				res = models.Unanalyzed(algorithm, fmt.Sprintf("Analysis failed: %v", err))
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a := m.combine(day, opts.BranchID, results)
	logger.Debug("Assessed %s: score=%d level=%s run=%v",
		day.Format(models.DateLayout), a.TotalRiskScore, a.RiskLevel, a.AlgorithmsRun)

	if m.observer != nil {
		m.observer.ObserveAssessment(a)
	}
	return a, nil
}

func (m *Monitor) combine(day time.Time, branchID string, results []models.DetectorResult) *models.Assessment {
	a := &models.Assessment{
		Date:          day,
		BranchID:      branchID,
		AlertMessages: []string{},
		AlgorithmsRun: []string{},
		Detectors:     m.Detectors(),
		Results:       make(map[string]models.DetectorResult, len(results)),
	}

	total := 0
	for i, res := range results {
		name := a.Detectors[i]
		a.Results[name] = res
		if !res.CanAnalyze {
			continue
		}
		total += res.RiskScore
		a.AlgorithmsRun = append(a.AlgorithmsRun, name)
		if res.Alert {
			a.AlertMessages = append(a.AlertMessages, res.Messages...)
		}
	}

	a.TotalRiskScore = models.ClampScore(total, 0, models.MaxRiskScore)
	a.RiskLevel = models.LevelFor(a.TotalRiskScore)
	a.RecommendedAction = models.RecommendedAction(a.RiskLevel)
	a.RequiresAlert = a.TotalRiskScore >= m.config.AlertThreshold
	return a
}

// Scan assesses every distinct date in the table, ascending.
func (m *Monitor) Scan(ctx context.Context, tbl *models.Table, opts Options) ([]*models.Assessment, error) {
	if tbl.Len() == 0 {
		return nil, fmt.Errorf("%w: transaction table is empty", models.ErrInvalidInput)
	}

	dates := tbl.Dates()
	out := make([]*models.Assessment, 0, len(dates))
	for _, day := range dates {
		a, err := m.Assess(ctx, day, tbl, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to assess %s: %w", day.Format(models.DateLayout), err)
		}
		out = append(out, a)
	}
	logger.Info("Scanned %d days", len(out))
	return out, nil
}

// SelectAlerts keeps assessments that require an alert and were not already sent,
// riskiest first (date ascending on ties), limited to TopK.
func (m *Monitor) SelectAlerts(assessments []*models.Assessment, sent func(*models.Assessment) bool) []*models.Assessment {
	var out []*models.Assessment
	for _, a := range assessments {
		if !a.RequiresAlert {
			continue
		}
		if sent != nil && sent(a) {
			continue
		}
		out = append(out, a)
	}

	sortByRisk(out)
	if m.config.TopK > 0 && len(out) > m.config.TopK {
		out = out[:m.config.TopK]
	}
	return out
}

func sortByRisk(as []*models.Assessment) {
	sort.SliceStable(as, func(i, j int) bool {
		if as[i].TotalRiskScore != as[j].TotalRiskScore {
			return as[i].TotalRiskScore > as[j].TotalRiskScore
		}
		return as[i].Date.Before(as[j].Date)
	})
}
