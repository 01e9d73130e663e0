package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeries_LastValues(t *testing.T) {
	series := Series[float64]{1, 2, 3, 4, 5}

	require.Equal(t, 5.0, series.Last(0))
	require.Equal(t, 4.0, series.Last(1))
	require.Equal(t, []float64{4, 5}, series.LastValues(2).Values())
	require.Equal(t, 5, series.LastValues(10).Length())
}

func TestSeries_Push(t *testing.T) {
	var series Series[float64]

	for i := 0; i < 10; i++ {
		series.Push(float64(i), 4)
	}

	require.Equal(t, 4, series.Length())
	require.Equal(t, []float64{6, 7, 8, 9}, series.Values())

	var unbounded Series[float64]
	for i := 0; i < 10; i++ {
		unbounded.Push(float64(i), 0)
	}
	require.Equal(t, 10, unbounded.Length())
}

func TestSeries_CrossoverLevel(t *testing.T) {
	tests := []struct {
		name   string
		values Series[float64]
		level  float64
		want   bool
	}{
		{"crosses above", Series[float64]{28, 29, 31}, 30, true},
		{"stays above after cross", Series[float64]{29, 31, 32}, 30, false},
		{"touch then cross", Series[float64]{28, 30, 31}, 30, true},
		{"still below", Series[float64]{28, 29, 29.9}, 30, false},
		{"single value", Series[float64]{31}, 30, false},
		{"empty", Series[float64]{}, 30, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.values.CrossoverLevel(tc.level))
		})
	}
}

func TestSeries_CrossunderLevel(t *testing.T) {
	tests := []struct {
		name   string
		values Series[float64]
		level  float64
		want   bool
	}{
		{"crosses below", Series[float64]{72, 71, 69}, 70, true},
		{"stays below after cross", Series[float64]{71, 69, 68}, 70, false},
		{"touch then cross", Series[float64]{72, 70, 69}, 70, true},
		{"still above", Series[float64]{72, 71, 70.1}, 70, false},
		{"single value", Series[float64]{69}, 70, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.values.CrossunderLevel(tc.level))
		})
	}
}

func TestSeries_Crossover(t *testing.T) {
	fast := Series[float64]{1, 3}
	slow := Series[float64]{2, 2}

	require.True(t, fast.Crossover(slow))
	require.False(t, slow.Crossover(fast))
	require.True(t, slow.Crossunder(fast))
	require.True(t, fast.Cross(slow))
}

func TestNumDecPlaces(t *testing.T) {
	require.Equal(t, int64(2), NumDecPlaces(1.25))
	require.Equal(t, int64(0), NumDecPlaces(100))
	require.Equal(t, int64(5), NumDecPlaces(0.00001))
}
