package iforest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cluster of normal points around (0, 0) plus one far outlier at the end
func clusterWithOutlier(n int) [][]float64 {
	rng := rand.New(rand.NewSource(7))
	x := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		x = append(x, []float64{rng.NormFloat64(), rng.NormFloat64(), float64(i % 7)})
	}
	return append(x, []float64{12, -12, 3})
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	// c(256) is a commonly quoted constant
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 3.0, percentile(values, 50))
	assert.Equal(t, 5.0, percentile(values, 100))
	assert.InDelta(t, 1.4, percentile(values, 10), 1e-12)
	assert.Equal(t, []float64{4, 1, 3, 2, 5}, values, "percentile must not reorder its input")
}

func TestScaler(t *testing.T) {
	x := [][]float64{{1, 5}, {3, 5}, {5, 5}}
	s, err := FitScaler(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5}, s.Mean)
	assert.InDelta(t, math.Sqrt(8.0/3.0), s.Scale[0], 1e-12)
	assert.Equal(t, 1.0, s.Scale[1], "constant column keeps unit scale")

	out, err := s.Transform([]float64{3, 7})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2}, out)

	_, err = s.Transform([]float64{1})
	assert.Error(t, err)
}

func TestFit_FlagsOutlier(t *testing.T) {
	x := clusterWithOutlier(200)
	f, err := Fit(x, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, f.Trees, 100)
	assert.Equal(t, 201, f.SampleSize)

	outlierScore := f.ScoreSample(x[len(x)-1])
	normalScore := f.ScoreSample([]float64{0, 0, 3})
	assert.Less(t, outlierScore, normalScore)
	assert.True(t, f.IsOutlier(outlierScore))
	assert.False(t, f.IsOutlier(normalScore))
	assert.GreaterOrEqual(t, outlierScore, -1.0)
	assert.LessOrEqual(t, normalScore, 0.0)
}

func TestFit_ContaminationCalibratesOffset(t *testing.T) {
	x := clusterWithOutlier(300)
	f, err := Fit(x, DefaultConfig())
	require.NoError(t, err)

	flagged := 0
	for _, row := range x {
		if f.IsOutlier(f.ScoreSample(row)) {
			flagged++
		}
	}
	// roughly 10% of the training rows sit below the offset
	assert.InDelta(t, 30, flagged, 3)
}

func TestFit_Deterministic(t *testing.T) {
	x := clusterWithOutlier(60)
	a, err := Fit(x, DefaultConfig())
	require.NoError(t, err)
	b, err := Fit(x, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Offset, b.Offset)
	assert.Equal(t, a.ScoreSample(x[3]), b.ScoreSample(x[3]))
}

func TestFit_Errors(t *testing.T) {
	_, err := Fit(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Contamination = 0
	_, err = Fit([][]float64{{1}, {2}}, cfg)
	assert.Error(t, err)

	_, err = Fit([][]float64{{1, 2}, {2}}, DefaultConfig())
	assert.Error(t, err)
}

func TestModel_SaveLoadRoundTrip(t *testing.T) {
	x := clusterWithOutlier(80)
	names := []string{"a", "b", "c"}
	m, err := Train(names, x, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 81, m.TrainingDays)

	data, err := m.Save()
	require.NoError(t, err)
	loaded, err := Load(data)
	require.NoError(t, err)

	for _, row := range [][]float64{x[0], x[40], x[80]} {
		want, wantOutlier, err := m.Score(row)
		require.NoError(t, err)
		got, gotOutlier, err := loaded.Score(row)
		require.NoError(t, err)
		assert.Equal(t, want, got, "score must round-trip exactly")
		assert.Equal(t, wantOutlier, gotOutlier)
	}
}

func TestLoad_RejectsCorruptedState(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "\x00\x01garbage"},
		{"empty object", `{}`},
		{"width mismatch", `{"scaler":{"mean":[0],"scale":[1]},"forest":{"trees":[{"nodes":[{"l":-1,"r":-1,"n":1}]}],"sample_size":1,"features":2}}`},
		{"cyclic tree", `{"scaler":{"mean":[0],"scale":[1]},"forest":{"trees":[{"nodes":[{"f":0,"l":0,"r":0,"n":2}]}],"sample_size":2,"features":1}}`},
		{"no trees", `{"scaler":{"mean":[0],"scale":[1]},"forest":{"trees":[],"sample_size":2,"features":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
