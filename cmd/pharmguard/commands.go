package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/ingest"
	"github.com/rewired-gh/pharmguard/internal/logger"
	"github.com/rewired-gh/pharmguard/internal/models"
	"github.com/rewired-gh/pharmguard/internal/monitor"
	"github.com/rewired-gh/pharmguard/internal/report"
)

// parseDay parses a --date style flag. An empty value yields fallback.
func parseDay(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	day, err := ingest.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q: %v", models.ErrInvalidInput, value, err)
	}
	return day, nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Assess one day (the latest day in the file by default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, err := a.loadTable()
			if err != nil {
				return err
			}
			_, last := tbl.Span()
			day, err := parseDay(date, last)
			if err != nil {
				return err
			}

			assessment, err := a.mon.Assess(cmd.Context(), day, tbl, a.cfg.MonitorOptions())
			if err != nil {
				return err
			}
			ids := a.save([]*models.Assessment{assessment})
			a.deliver([]*models.Assessment{assessment}, ids)
			if a.tg != nil && a.cfg.Telegram.SendSummary && !assessment.RequiresAlert {
				if err := a.tg.SendDailySummary(a.cfg.Analysis.PharmacyName, assessment); err != nil {
					logger.Warn("Failed to send daily summary to Telegram: %v", err)
				}
			}
			a.writeMetrics()
			return a.renderer.Assessment(assessment)
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", "", "day to analyze (YYYY-MM-DD)")
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Assess every day in the file and summarize the riskiest ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, err := a.loadTable()
			if err != nil {
				return err
			}
			start := time.Now()
			assessments, err := a.mon.Scan(cmd.Context(), tbl, a.cfg.MonitorOptions())
			if err != nil {
				return err
			}
			logger.Info("Scan completed in %v", time.Since(start))

			ids := a.save(assessments)
			a.deliver(assessments, ids)
			a.writeMetrics()
			return a.renderer.Summary(monitor.Summarize(assessments, a.cfg.Analysis.TopDays))
		},
	}
}

func newTrainCmd(a *app) *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain the outlier model and replace the stored one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, err := a.loadTable()
			if err != nil {
				return err
			}
			cutoff, err := parseDay(before, time.Time{})
			if err != nil {
				return err
			}
			model, err := a.outlier.Train(tbl, cutoff)
			if err != nil {
				if errors.Is(err, models.ErrInsufficientHistory) {
					return fmt.Errorf("cannot train outlier model: %w", err)
				}
				if model == nil {
					return err
				}
				logger.Warn("%v", err)
			}
			fmt.Fprintf(a.stdout, "Trained %s on %d days\n", a.outlier.Name(), model.TrainingDays)

			info, err := a.store.GetModelInfo(a.cfg.Detectors.Outlier.ArtifactName)
			if err != nil {
				logger.Warn("Failed to read stored model info: %v", err)
			} else if info != nil {
				logger.Info("Stored model %q: %d training days, trained at %s",
					info.Name, info.TrainingDays, info.TrainedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "train only on days before this date (YYYY-MM-DD)")
	return cmd
}

func newInvestigateCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "investigate",
		Short: "Break down one day's transactions for manual review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tbl, err := a.loadTable()
			if err != nil {
				return err
			}
			_, last := tbl.Span()
			day, err := parseDay(date, last)
			if err != nil {
				return err
			}
			oc := a.cfg.Detectors.Outlier
			bd := aggregate.BreakdownOf(tbl, day, aggregate.BreakdownOptions{
				TopN:               oc.TopN,
				HighValueThreshold: a.cfg.Detectors.HighValue.PriceThreshold,
				SmallThreshold:     oc.SmallThreshold,
				LargeThreshold:     oc.LargeThreshold,
			})
			return a.renderer.Breakdown(bd)
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", "", "day to investigate (YYYY-MM-DD)")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var top int
	var clearFirst bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored assessments, riskiest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clearFirst {
				if err := a.store.ClearAssessments(); err != nil {
					return err
				}
				logger.Info("Assessment history cleared")
			}
			stored, err := a.store.GetTopAssessments(top)
			if err != nil {
				return err
			}
			entries := make([]report.HistoryEntry, 0, len(stored))
			for _, s := range stored {
				entries = append(entries, report.HistoryEntry{ID: s.ID, Notified: s.Notified, Assessment: s.Assessment})
			}
			return a.renderer.History(entries)
		},
	}
	cmd.Flags().IntVarP(&top, "top", "k", 20, "number of assessments to list")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "delete all stored assessments first")
	return cmd
}

// save records assessments in history and returns their ids keyed by assessment.
func (a *app) save(assessments []*models.Assessment) map[*models.Assessment]string {
	ids := make(map[*models.Assessment]string, len(assessments))
	for _, as := range assessments {
		id, err := a.store.SaveAssessment(as)
		if err != nil {
			logger.Warn("Failed to store assessment for %s: %v", as.Date.Format(models.DateLayout), err)
			continue
		}
		ids[as] = id
	}
	return ids
}

// deliver sends alerts for assessments not yet notified, riskiest first, and marks them sent.
func (a *app) deliver(assessments []*models.Assessment, ids map[*models.Assessment]string) {
	alerts := a.mon.SelectAlerts(assessments, func(as *models.Assessment) bool {
		sent, err := a.store.WasNotified(as.Date, as.BranchID)
		if err != nil {
			logger.Warn("Failed to check notification state: %v", err)
			return false
		}
		return sent
	})
	if len(alerts) == 0 {
		logger.Info("No new days above the alert threshold")
		return
	}
	logger.Info("%d day(s) require an alert", len(alerts))

	if a.tg == nil {
		logger.Debug("Alerts detected but Telegram notifications disabled")
		return
	}
	for _, as := range alerts {
		if err := a.tg.SendAlert(a.cfg.Analysis.PharmacyName, as); err != nil {
			logger.Error("Failed to send Telegram alert for %s: %v", as.Date.Format(models.DateLayout), err)
			continue
		}
		id, ok := ids[as]
		if !ok {
			continue
		}
		if err := a.store.MarkNotified(id); err != nil {
			logger.Warn("Failed to mark assessment %s notified: %v", id, err)
		}
	}
}
