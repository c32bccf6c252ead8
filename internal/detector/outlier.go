package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/iforest"
	"github.com/rewired-gh/pharmguard/internal/logger"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// OutlierConfig tunes the isolation-forest detector.
type OutlierConfig struct {
	MinTrainingDays int     `mapstructure:"min_training_days"`
	Contamination   float64 `mapstructure:"contamination"`
	Trees           int     `mapstructure:"trees"`
	MaxSamples      int     `mapstructure:"max_samples"`
	Seed            int64   `mapstructure:"seed"`
	ScoreOffset     float64 `mapstructure:"score_offset"`
	ScoreScale      float64 `mapstructure:"score_scale"`
	Cap             int     `mapstructure:"cap"`
	LargeThreshold  float64 `mapstructure:"large_threshold"`
	SmallThreshold  float64 `mapstructure:"small_threshold"`
	TopN            int     `mapstructure:"top_n"`
	ArtifactName    string  `mapstructure:"artifact_name"`
}

func DefaultOutlierConfig() OutlierConfig {
	return OutlierConfig{
		MinTrainingDays: 30,
		Contamination:   0.10,
		Trees:           100,
		MaxSamples:      256,
		Seed:            42,
		ScoreOffset:     0.5,
		ScoreScale:      70,
		Cap:             35,
		LargeThreshold:  50,
		SmallThreshold:  10,
		TopN:            10,
		ArtifactName:    "isolation_forest",
	}
}

// ModelName is reported on every result produced by the outlier detector.
const ModelName = "Isolation Forest"

// FeatureNames lists the per-day features in model column order.
var FeatureNames = []string{
	"total_sales",
	"transaction_count",
	"avg_transaction_value",
	"high_value_ratio",
	"high_value_total",
	"small_transaction_ratio",
	"sales_concentration",
	"avg_quantity",
	"day_of_week",
}

// ModelStore persists serialized model artifacts. LoadModel returns nil, nil when nothing is stored.
type ModelStore interface {
	LoadModel(name string) ([]byte, error)
	SaveModel(name string, payload []byte, trainingDays int) error
}

// Outlier scores a day's aggregate features with an isolation forest that is trained once,
// persisted, and reused until Train is called again.
type Outlier struct {
	cfg   OutlierConfig
	store ModelStore

	model   atomic.Pointer[iforest.Model]
	trainMu sync.Mutex
	loaded  bool
}

// NewOutlier creates the detector. store may be nil, in which case the model lives only in memory.
func NewOutlier(cfg OutlierConfig, store ModelStore) *Outlier {
	return &Outlier{cfg: cfg, store: store}
}

func (o *Outlier) Name() string { return NameOutlier }

// Model returns the current in-memory model, or nil.
func (o *Outlier) Model() *iforest.Model {
	return o.model.Load()
}

// DailyFeatures computes the feature vector of one day's rows.
func (o *Outlier) DailyFeatures(day time.Time, rows []models.Transaction) []float64 {
	total := aggregate.Sum(rows, aggregate.Amount)
	count := float64(len(rows))

	var largeCount, largeTotal, smallCount float64
	amounts := make([]float64, 0, len(rows))
	for _, r := range rows {
		if r.Amount >= o.cfg.LargeThreshold {
			largeCount++
			largeTotal += r.Amount
		}
		if r.Amount < o.cfg.SmallThreshold {
			smallCount++
		}
		amounts = append(amounts, r.Amount)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(amounts)))
	n := o.cfg.TopN
	if n > len(amounts) {
		n = len(amounts)
	}
	var top float64
	for _, a := range amounts[:n] {
		top += a
	}

	ratio := func(num float64) float64 {
		if count == 0 {
			return 0
		}
		return num / count
	}
	concentration := 0.0
	if total > 0 {
		concentration = top / total
	}

	return []float64{
		total,
		count,
		ratio(total),
		ratio(largeCount),
		largeTotal,
		ratio(smallCount),
		concentration,
		aggregate.Mean(rows, aggregate.Quantity),
		float64(models.WeekdayIndex(day)),
	}
}

// FeatureMatrix builds one feature row per calendar day present in rows.
func (o *Outlier) FeatureMatrix(rows []models.Transaction) ([]time.Time, [][]float64) {
	var days []time.Time
	var x [][]float64
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].Date.Equal(rows[start].Date) {
			end++
		}
		days = append(days, rows[start].Date)
		x = append(x, o.DailyFeatures(rows[start].Date, rows[start:end]))
		start = end
	}
	return days, x
}

// Train fits a new model on every day strictly before the given date (all days when before is zero)
// and persists it, replacing any stored artifact. The in-memory model is replaced even if persisting fails.
func (o *Outlier) Train(tbl *models.Table, before time.Time) (*iforest.Model, error) {
	o.trainMu.Lock()
	defer o.trainMu.Unlock()
	return o.trainLocked(tbl, before)
}

func (o *Outlier) trainLocked(tbl *models.Table, before time.Time) (*iforest.Model, error) {
	rows := tbl.Rows()
	if !before.IsZero() {
		rows = aggregate.Before(tbl, before)
	}
	_, x := o.FeatureMatrix(rows)
	if len(x) < o.cfg.MinTrainingDays {
		return nil, fmt.Errorf("%w: need %d+ days, have %d", models.ErrInsufficientHistory, o.cfg.MinTrainingDays, len(x))
	}

	model, err := iforest.Train(FeatureNames, x, iforest.Config{
		Trees:         o.cfg.Trees,
		MaxSamples:    o.cfg.MaxSamples,
		Contamination: o.cfg.Contamination,
		Seed:          o.cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to train outlier model: %w", err)
	}
	o.model.Store(model)
	o.loaded = true
	logger.Info("Outlier model trained on %d days", len(x))

	if o.store == nil {
		return model, nil
	}
	payload, err := model.Save()
	if err != nil {
		return model, fmt.Errorf("failed to serialize outlier model: %w", err)
	}
	if err := o.store.SaveModel(o.cfg.ArtifactName, payload, model.TrainingDays); err != nil {
		return model, fmt.Errorf("failed to persist outlier model: %w", err)
	}
	return model, nil
}

// loadLocked reads the persisted artifact once. Unreadable state counts as no model.
func (o *Outlier) loadLocked() *iforest.Model {
	if o.loaded || o.store == nil {
		return nil
	}
	o.loaded = true
	payload, err := o.store.LoadModel(o.cfg.ArtifactName)
	if err != nil {
		logger.Warn("Failed to read persisted outlier model: %v", err)
		return nil
	}
	if payload == nil {
		return nil
	}
	model, err := iforest.Load(payload)
	if err == nil && model.Forest.Features != len(FeatureNames) {
		err = fmt.Errorf("model has %d features, want %d", model.Forest.Features, len(FeatureNames))
	}
	if err != nil {
		logger.Warn("Discarding unreadable outlier model, will retrain: %v", err)
		return nil
	}
	o.model.Store(model)
	logger.Info("Loaded persisted outlier model (%d training days)", model.TrainingDays)
	return model
}

// ensure returns a usable model, loading or training one on the history before date if needed.
func (o *Outlier) ensure(tbl *models.Table, date time.Time) (*iforest.Model, error) {
	if m := o.model.Load(); m != nil {
		return m, nil
	}
	o.trainMu.Lock()
	defer o.trainMu.Unlock()
	if m := o.model.Load(); m != nil {
		return m, nil
	}
	if m := o.loadLocked(); m != nil {
		return m, nil
	}
	m, err := o.trainLocked(tbl, date)
	if m != nil && err != nil {
		logger.Warn("Outlier model trained but not persisted: %v", err)
		return m, nil
	}
	return m, err
}

// RiskFromScore maps an anomaly score to [0, 100] with the configured affine transform.
func (o *Outlier) RiskFromScore(score float64) int {
	return models.ClampScore(int((o.cfg.ScoreOffset-score)*o.cfg.ScoreScale), 0, models.MaxRiskScore)
}

func (o *Outlier) Detect(_ context.Context, in Input) (models.DetectorResult, error) {
	const algorithm = "ml_anomaly_detection"

	model, err := o.ensure(in.Table, in.Date)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientHistory) {
			return models.Unanalyzed(algorithm,
				fmt.Sprintf("Insufficient data for training (need %d+ days)", o.cfg.MinTrainingDays)), nil
		}
		return models.Unanalyzed(algorithm, "Model not trained"), err
	}

	today := aggregate.On(in.Table, in.Date)
	if len(today) == 0 {
		return models.Unanalyzed(algorithm, "No data for this date"), nil
	}

	features := o.DailyFeatures(in.Date, today)
	score, outlier, err := model.Score(features)
	if err != nil {
		return models.Unanalyzed(algorithm, "Model not trained"), fmt.Errorf("failed to score features: %w", err)
	}

	raw := o.RiskFromScore(score)
	messages := []string{}
	if outlier {
		messages = append(messages,
			"ML Model flagged this day as anomalous",
			fmt.Sprintf("   Anomaly Score: %.3f (lower = more suspicious)", score),
			"   Based on: sales, transaction patterns, value distribution",
		)
	}

	metrics := make(map[string]float64, len(FeatureNames)+2)
	for i, name := range FeatureNames {
		metrics[name] = features[i]
	}
	metrics["anomaly_score"] = score
	metrics["raw_risk_score"] = float64(raw)

	return models.DetectorResult{
		Algorithm:  algorithm,
		RiskScore:  capScore(raw, o.cfg.Cap),
		Alert:      outlier,
		Messages:   messages,
		CanAnalyze: true,
		Metrics:    metrics,
		ModelName:  ModelName,
	}, nil
}
