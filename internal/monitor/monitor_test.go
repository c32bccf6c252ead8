package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rewired-gh/pharmguard/internal/detector"
	"github.com/rewired-gh/pharmguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wednesday = time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)

type stubDetector struct {
	name  string
	res   models.DetectorResult
	err   error
	delay time.Duration
	calls int
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(_ context.Context, _ detector.Input) (models.DetectorResult, error) {
	s.calls++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.res, s.err
}

func stub(name string, score int, alert, canAnalyze bool, messages ...string) *stubDetector {
	return &stubDetector{name: name, res: models.DetectorResult{
		Algorithm:  name + "_algo",
		RiskScore:  score,
		Alert:      alert,
		Messages:   messages,
		CanAnalyze: canAnalyze,
	}}
}

func smallTable(t *testing.T) *models.Table {
	t.Helper()
	tbl, err := models.NewTable([]models.Transaction{
		{Date: wednesday, ProductName: "Item", Quantity: 1, Amount: 10},
	})
	require.NoError(t, err)
	return tbl
}

func asDetectors(stubs ...*stubDetector) []detector.Detector {
	out := make([]detector.Detector, len(stubs))
	for i, s := range stubs {
		out[i] = s
	}
	return out
}

func TestAssess_Combination(t *testing.T) {
	tests := []struct {
		name         string
		stubs        []*stubDetector
		wantScore    int
		wantLevel    models.RiskLevel
		wantAlert    bool
		wantRun      []string
		wantMessages []string
	}{
		{
			name: "sums analysable scores only",
			stubs: []*stubDetector{
				stub("a", 30, true, true, "a1", "a2"),
				stub("b", 35, true, false, "b1"),
				stub("c", 15, false, true, "c1"),
			},
			wantScore:    45,
			wantLevel:    models.RiskMedium,
			wantAlert:    true,
			wantRun:      []string{"a", "c"},
			wantMessages: []string{"a1", "a2"},
		},
		{
			name: "sub-threshold contributions can still require an alert",
			stubs: []*stubDetector{
				stub("a", 20, false, true, "a1"),
				stub("b", 20, false, true, "b1"),
			},
			wantScore:    40,
			wantLevel:    models.RiskMedium,
			wantAlert:    true,
			wantRun:      []string{"a", "b"},
			wantMessages: []string{},
		},
		{
			name: "total is clamped to 100",
			stubs: []*stubDetector{
				stub("a", 40, true, true, "a1"),
				stub("b", 35, true, true, "b1"),
				stub("c", 30, true, true, "c1"),
			},
			wantScore:    100,
			wantLevel:    models.RiskCritical,
			wantAlert:    true,
			wantRun:      []string{"a", "b", "c"},
			wantMessages: []string{"a1", "b1", "c1"},
		},
		{
			name: "all unanalyzed is low with nothing run",
			stubs: []*stubDetector{
				stub("a", 40, true, false, "a1"),
				stub("b", 0, false, false, "b1"),
			},
			wantScore:    0,
			wantLevel:    models.RiskLow,
			wantAlert:    false,
			wantRun:      []string{},
			wantMessages: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(asDetectors(tt.stubs...), DefaultConfig())
			a, err := m.Assess(context.Background(), wednesday, smallTable(t), Options{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantScore, a.TotalRiskScore)
			assert.Equal(t, tt.wantLevel, a.RiskLevel)
			assert.Equal(t, tt.wantAlert, a.RequiresAlert)
			assert.Equal(t, tt.wantRun, a.AlgorithmsRun)
			assert.Equal(t, tt.wantMessages, a.AlertMessages)
			assert.Equal(t, models.RecommendedAction(tt.wantLevel), a.RecommendedAction)
			assert.Len(t, a.Results, len(tt.stubs))
		})
	}
}

func TestAssess_MessageOrderFollowsRegistration(t *testing.T) {
	slow := stub("slow", 10, true, true, "first")
	slow.delay = 20 * time.Millisecond
	fast := stub("fast", 10, true, true, "second")

	m := New(asDetectors(slow, fast), DefaultConfig())
	a, err := m.Assess(context.Background(), wednesday, smallTable(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, a.AlertMessages)
	assert.Equal(t, []string{"slow", "fast"}, a.Detectors)
}

func TestAssess_DetectorErrorIsContained(t *testing.T) {
	broken := stub("broken", 30, true, true, "never")
	broken.err = errors.New("boom")
	ok := stub("ok", 10, false, true)

	m := New(asDetectors(broken, ok), DefaultConfig())
	a, err := m.Assess(context.Background(), wednesday, smallTable(t), Options{})
	require.NoError(t, err)

	res, found := a.Result("broken")
	require.True(t, found)
	assert.False(t, res.CanAnalyze)
	assert.Equal(t, "broken_algo", res.Algorithm)
	assert.Equal(t, 10, a.TotalRiskScore)
	assert.Equal(t, []string{"ok"}, a.AlgorithmsRun)
	assert.Equal(t, 1, ok.calls)
}

func TestAssess_InvalidInput(t *testing.T) {
	m := New(asDetectors(stub("a", 0, false, true)), DefaultConfig())

	_, err := m.Assess(context.Background(), time.Time{}, smallTable(t), Options{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = m.Assess(context.Background(), wednesday, nil, Options{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

type recorder struct{ seen []*models.Assessment }

func (r *recorder) ObserveAssessment(a *models.Assessment) { r.seen = append(r.seen, a) }

func TestAssess_NotifiesObserver(t *testing.T) {
	m := New(asDetectors(stub("a", 5, false, true)), DefaultConfig())
	rec := &recorder{}
	m.SetObserver(rec)

	a, err := m.Assess(context.Background(), wednesday, smallTable(t), Options{})
	require.NoError(t, err)
	require.Len(t, rec.seen, 1)
	assert.Same(t, a, rec.seen[0])
}

// stable ~GHS 1000/day with 100 sales for 91 days, then 20 sales worth GHS 200 on target
func collapseTable(t *testing.T) *models.Table {
	t.Helper()
	var rows []models.Transaction
	for i := 1; i <= 91; i++ {
		day := wednesday.AddDate(0, 0, -i)
		amount := 10.4 + float64(i%5-2)*0.2
		for k := 0; k < 100; k++ {
			rows = append(rows, models.Transaction{Date: day, ProductName: "Paracetamol", Quantity: 1, Amount: amount})
		}
	}
	for k := 0; k < 20; k++ {
		rows = append(rows, models.Transaction{Date: wednesday, ProductName: "Paracetamol", Quantity: 1, Amount: 10})
	}
	tbl, err := models.NewTable(rows)
	require.NoError(t, err)
	return tbl
}

func TestAssess_SalesCollapseEndToEnd(t *testing.T) {
	detectors, _ := detector.Standard(detector.DefaultConfig(), nil)
	m := New(detectors, DefaultConfig())
	tbl := collapseTable(t)

	a, err := m.Assess(context.Background(), wednesday, tbl, Options{})
	require.NoError(t, err)

	daily, ok := a.Result(detector.NameDailySales)
	require.True(t, ok)
	assert.True(t, daily.Alert)
	assert.Equal(t, 40, daily.RiskScore)

	sum := 0
	for _, name := range a.AlgorithmsRun {
		sum += a.Results[name].RiskScore
	}
	assert.Equal(t, models.ClampScore(sum, 0, 100), a.TotalRiskScore)
	assert.Contains(t, []models.RiskLevel{models.RiskHigh, models.RiskCritical}, a.RiskLevel)
	assert.True(t, a.RequiresAlert)
	assert.Equal(t, []string{
		detector.NameDailySales,
		detector.NameHighValue,
		detector.NameProductMix,
		detector.NameWeeklyTrend,
		detector.NameOutlier,
	}, a.Detectors)

	again, err := m.Assess(context.Background(), wednesday, tbl, Options{})
	require.NoError(t, err)
	if diff := cmp.Diff(a, again); diff != "" {
		t.Errorf("repeated assessment differs (-first +second):\n%s", diff)
	}
}

func TestAssess_Invariants(t *testing.T) {
	detectors, _ := detector.Standard(detector.DefaultConfig(), nil)
	m := New(detectors, DefaultConfig())
	tbl := collapseTable(t)

	for _, day := range tbl.Dates()[80:] {
		a, err := m.Assess(context.Background(), day, tbl, Options{})
		require.NoError(t, err)

		assert.GreaterOrEqual(t, a.TotalRiskScore, 0)
		assert.LessOrEqual(t, a.TotalRiskScore, 100)
		assert.Equal(t, a.TotalRiskScore >= 40, a.RequiresAlert)
		assert.Equal(t, models.LevelFor(a.TotalRiskScore), a.RiskLevel)
		for _, name := range a.Detectors {
			res := a.Results[name]
			assert.Equal(t, res.CanAnalyze, contains(a.AlgorithmsRun, name), name)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestScan_AssessesEveryDay(t *testing.T) {
	a := stub("a", 10, false, true)
	m := New(asDetectors(a), DefaultConfig())

	tbl, err := models.NewTable([]models.Transaction{
		{Date: wednesday.AddDate(0, 0, 1), ProductName: "Item", Quantity: 1, Amount: 5},
		{Date: wednesday, ProductName: "Item", Quantity: 1, Amount: 5},
		{Date: wednesday, ProductName: "Item", Quantity: 1, Amount: 7},
	})
	require.NoError(t, err)

	out, err := m.Scan(context.Background(), tbl, Options{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Date.Equal(wednesday))
	assert.True(t, out[1].Date.Equal(wednesday.AddDate(0, 0, 1)))
	assert.Equal(t, 2, a.calls)
}

func assessment(day int, score int) *models.Assessment {
	level := models.LevelFor(score)
	return &models.Assessment{
		Date:           wednesday.AddDate(0, 0, day),
		TotalRiskScore: score,
		RiskLevel:      level,
		RequiresAlert:  score >= 40,
		Results: map[string]models.DetectorResult{
			detector.NameDailySales: {
				CanAnalyze: true,
				Metrics:    map[string]float64{"today_sales": float64(100 * (day + 1)), "today_transactions": float64(day + 1)},
			},
		},
	}
}

func TestSelectAlerts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopK = 2
	m := New(nil, cfg)

	list := []*models.Assessment{assessment(0, 10), assessment(1, 65), assessment(2, 45), assessment(3, 65), assessment(4, 90)}
	sent := func(a *models.Assessment) bool { return a.Date.Equal(wednesday.AddDate(0, 0, 4)) }

	got := m.SelectAlerts(list, sent)
	require.Len(t, got, 2)
	assert.Same(t, list[1], got[0])
	assert.Same(t, list[3], got[1])
}

func TestSummarize(t *testing.T) {
	list := []*models.Assessment{assessment(0, 10), assessment(1, 65), assessment(2, 45), assessment(3, 65), assessment(4, 20)}

	s := Summarize(list, 3)
	assert.Equal(t, 5, s.Days)
	assert.InDelta(t, 41.0, s.AverageScore, 1e-9)
	assert.Equal(t, 65, s.MaxScore)
	assert.Equal(t, 3, s.AlertDays)
	assert.Equal(t, []LevelCount{
		{Level: models.RiskCritical, Count: 0},
		{Level: models.RiskHigh, Count: 2},
		{Level: models.RiskMedium, Count: 1},
		{Level: models.RiskLow, Count: 2},
	}, s.Levels)

	require.Len(t, s.TopDays, 3)
	assert.True(t, s.TopDays[0].Date.Equal(wednesday.AddDate(0, 0, 1)))
	assert.True(t, s.TopDays[1].Date.Equal(wednesday.AddDate(0, 0, 3)))
	assert.Equal(t, 45, s.TopDays[2].Score)
	assert.Equal(t, 200.0, s.TopDays[0].DailySales)
	assert.Equal(t, 2, s.TopDays[0].Transactions)

	// input order is preserved
	assert.Equal(t, 10, list[0].TotalRiskScore)
}
