// Package metrics records assessment outcomes as Prometheus metrics.
// The registry is private to a Recorder so batch runs can write it out as a node-exporter textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rewired-gh/pharmguard/internal/models"
)

const namespace = "pharmguard"

// Recorder implements monitor.Observer.
type Recorder struct {
	registry *prometheus.Registry

	assessments *prometheus.CounterVec
	alerts      prometheus.Counter
	// detector_score: contribution of each analysable detector, in points.
	detectorScore *prometheus.HistogramVec
	unanalyzed    *prometheus.CounterVec
	lastScore     prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		assessments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessments_total",
				Help:      "Total number of daily assessments by risk level.",
			},
			[]string{"risk_level"},
		),
		alerts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of assessments that required an alert.",
		}),
		detectorScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "detector_score",
				Help:      "Risk points contributed by each analysable detector.",
				Buckets:   prometheus.LinearBuckets(0, 5, 9),
			},
			[]string{"detector"},
		),
		unanalyzed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detector_unanalyzed_total",
				Help:      "Total number of detector runs that could not analyze the day.",
			},
			[]string{"detector"},
		),
		lastScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_risk_score",
			Help:      "Total risk score of the most recent assessment.",
		}),
	}
}

// ObserveAssessment records one combined assessment.
func (r *Recorder) ObserveAssessment(a *models.Assessment) {
	r.assessments.WithLabelValues(string(a.RiskLevel)).Inc()
	if a.RequiresAlert {
		r.alerts.Inc()
	}
	for name, res := range a.Results {
		if !res.CanAnalyze {
			r.unanalyzed.WithLabelValues(name).Inc()
			continue
		}
		r.detectorScore.WithLabelValues(name).Observe(float64(res.RiskScore))
	}
	r.lastScore.Set(float64(a.TotalRiskScore))
}

// WriteTextfile writes all metrics in the text exposition format, atomically replacing path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
