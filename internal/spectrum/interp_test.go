package spectrum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/spamm/internal/apperr"
)

func TestInterpolator_Linear(t *testing.T) {
	in, err := NewInterpolator([]float64{0, 10, 20}, []float64{0, 100, 0})
	require.NoError(t, err)

	v, err := in.At(5)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v, 1e-12)

	v, err = in.At(15)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v, 1e-12)

	got, err := in.Resample([]float64{0, 10, 20})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 100, 0}, got)
}

func TestInterpolator_OutOfRange(t *testing.T) {
	in, err := NewInterpolator([]float64{10, 20}, []float64{1, 2})
	require.NoError(t, err)

	_, err = in.At(9.999)
	assert.ErrorIs(t, err, apperr.ErrContract)

	_, err = in.Resample([]float64{12, 21})
	assert.ErrorIs(t, err, apperr.ErrContract)

	assert.True(t, in.Covers(10, 20))
	assert.False(t, in.Covers(5, 20))
	lo, hi := in.Range()
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 20.0, hi)
}

func TestNewInterpolator_Rejects(t *testing.T) {
	_, err := NewInterpolator([]float64{1}, []float64{1})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)

	_, err = NewInterpolator([]float64{1, 1}, []float64{1, 2})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)
}

func TestSmoothedMax_SuppressesSpike(t *testing.T) {
	values := []float64{1, 1, 1, 1, 50, 1, 1, 1, 1, 1}
	got := SmoothedMax(values, 5)
	// Every full window containing the spike averages to (50 + 4) / 5.
	assert.InDelta(t, 54.0/5.0, got, 1e-12)
	assert.Less(t, got, 50.0)
}

func TestSmoothedMax_TailIsZeroPadded(t *testing.T) {
	values := []float64{0, 0, 0, 0, 0, 0, 10}
	// Only the last windows see the final point, each divided by the full width.
	assert.InDelta(t, 2.0, SmoothedMax(values, 5), 1e-12)
}

func TestSmoothedMax_Constant(t *testing.T) {
	assert.InDelta(t, 3.0, SmoothedMax([]float64{3, 3, 3, 3, 3, 3}, 5), 1e-12)
	assert.Equal(t, 0.0, SmoothedMax(nil, 5))
}
