package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/pharmguard/internal/models"
)

func assessment(score int, alert bool) *models.Assessment {
	return &models.Assessment{
		Date:           time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC),
		TotalRiskScore: score,
		RiskLevel:      models.LevelFor(score),
		RequiresAlert:  alert,
		Results: map[string]models.DetectorResult{
			"daily_sales":   {RiskScore: score, CanAnalyze: true},
			"weekly_trends": {CanAnalyze: false},
		},
	}
}

func TestObserveAssessment(t *testing.T) {
	r := New()
	r.ObserveAssessment(assessment(45, true))
	r.ObserveAssessment(assessment(10, false))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.assessments.WithLabelValues("medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.assessments.WithLabelValues("low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alerts))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.unanalyzed.WithLabelValues("weekly_trends")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.lastScore))
	assert.Equal(t, 1, testutil.CollectAndCount(r.detectorScore))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveAssessment(assessment(65, true))

	path := filepath.Join(t.TempDir(), "pharmguard.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, `pharmguard_assessments_total{risk_level="high"} 1`), out)
	assert.Contains(t, out, "pharmguard_last_risk_score 65")
	assert.Contains(t, out, `pharmguard_detector_score_count{detector="daily_sales"} 1`)
}

func TestWriteTextfileBadPath(t *testing.T) {
	err := New().WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
