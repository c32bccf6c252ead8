package iforest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Model bundles a fitted scaler with the forest trained on its output.
type Model struct {
	Features     []string  `json:"features"`
	Scaler       *Scaler   `json:"scaler"`
	Forest       *Forest   `json:"forest"`
	TrainingDays int       `json:"training_days"`
	TrainedAt    time.Time `json:"trained_at"`
}

// Train fits the scaler on x, then the forest on the scaled matrix.
func Train(features []string, x [][]float64, cfg Config) (*Model, error) {
	scaler, err := FitScaler(x)
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	scaled, err := scaler.TransformAll(x)
	if err != nil {
		return nil, fmt.Errorf("failed to scale training matrix: %w", err)
	}
	forest, err := Fit(scaled, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to fit forest: %w", err)
	}
	return &Model{
		Features:     append([]string(nil), features...),
		Scaler:       scaler,
		Forest:       forest,
		TrainingDays: len(x),
		TrainedAt:    time.Now().UTC(),
	}, nil
}

// Score scales sample and returns its anomaly score and outlier label.
func (m *Model) Score(sample []float64) (score float64, outlier bool, err error) {
	scaled, err := m.Scaler.Transform(sample)
	if err != nil {
		return 0, false, err
	}
	score = m.Forest.ScoreSample(scaled)
	return score, m.Forest.IsOutlier(score), nil
}

// Save serializes the model. Float64 values round-trip exactly through encoding/json.
func (m *Model) Save() ([]byte, error) {
	return json.Marshal(m)
}

// Load deserializes and sanity-checks a model produced by Save.
func Load(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if m.Scaler == nil || m.Forest == nil {
		return nil, errors.New("model is missing scaler or forest")
	}
	if len(m.Scaler.Mean) != len(m.Scaler.Scale) || len(m.Scaler.Mean) != m.Forest.Features {
		return nil, fmt.Errorf("scaler width %d does not match forest width %d", len(m.Scaler.Mean), m.Forest.Features)
	}
	for j, s := range m.Scaler.Scale {
		if s == 0 {
			return nil, fmt.Errorf("scaler has zero scale for feature %d", j)
		}
	}
	if len(m.Features) != 0 && len(m.Features) != m.Forest.Features {
		return nil, fmt.Errorf("model names %d features but forest has %d", len(m.Features), m.Forest.Features)
	}
	if err := m.Forest.validate(); err != nil {
		return nil, fmt.Errorf("corrupted forest: %w", err)
	}
	return &m, nil
}
