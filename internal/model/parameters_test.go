package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoLayer(w []float64, b float64) ParameterVector {
	return ParameterVector{
		{Shape: []int{len(w)}, Data: append([]float64(nil), w...)},
		{Shape: []int{1}, Data: []float64{b}},
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := twoLayer([]float64{1, 2}, 3)
	cp := orig.Clone()
	cp[0].Data[0] = 42
	cp[0].Shape[0] = 7

	assert.Equal(t, 1.0, orig[0].Data[0])
	assert.Equal(t, 2, orig[0].Shape[0])
}

func TestCheckShape(t *testing.T) {
	t.Parallel()

	base := twoLayer([]float64{1, 2}, 3)

	tests := []struct {
		name    string
		other   ParameterVector
		wantErr bool
	}{
		{name: "same", other: twoLayer([]float64{5, 6}, 0)},
		{name: "missing layer", other: base[:1], wantErr: true},
		{name: "longer layer", other: twoLayer([]float64{1, 2, 3}, 0), wantErr: true},
		{
			name: "same size different shape",
			other: ParameterVector{
				{Shape: []int{1, 2}, Data: []float64{1, 2}},
				{Shape: []int{1}, Data: []float64{0}},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := base.CheckShape(tc.other)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, twoLayer([]float64{1}, 0).Validate())
	assert.ErrorIs(t, ParameterVector{}.Validate(), ErrShapeMismatch)
	assert.ErrorIs(t, ParameterVector{{Shape: []int{3}, Data: []float64{1}}}.Validate(), ErrShapeMismatch)
	assert.ErrorIs(t, ParameterVector{{Shape: []int{0}, Data: nil}}.Validate(), ErrShapeMismatch)
}

func TestCheckFinite(t *testing.T) {
	t.Parallel()

	assert.NoError(t, twoLayer([]float64{1, -1}, 0).CheckFinite())
	assert.ErrorIs(t, twoLayer([]float64{math.NaN()}, 0).CheckFinite(), ErrNumeric)
	assert.ErrorIs(t, twoLayer([]float64{0}, math.Inf(-1)).CheckFinite(), ErrNumeric)
}

func TestAddScaledAndScale(t *testing.T) {
	t.Parallel()

	pv := twoLayer([]float64{1, 1}, 1)
	pv.AddScaled(-0.5, twoLayer([]float64{2, 4}, 2))
	assert.Equal(t, twoLayer([]float64{0, -1}, 0), pv)

	pv.Scale(2)
	assert.Equal(t, twoLayer([]float64{0, -2}, 0), pv)
	assert.Equal(t, 3, pv.NumParams())
}

func TestL2Distance(t *testing.T) {
	t.Parallel()

	d, err := twoLayer([]float64{0, 0}, 0).L2Distance(twoLayer([]float64{3, 0}, 4))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-12)

	_, err = twoLayer([]float64{0}, 0).L2Distance(twoLayer([]float64{0, 0}, 0))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewTensorAndZerosLike(t *testing.T) {
	t.Parallel()

	tensor := NewTensor(2, 3)
	assert.Len(t, tensor.Data, 6)
	assert.NoError(t, tensor.Validate())

	zeros := twoLayer([]float64{1, 2}, 3).ZerosLike()
	assert.True(t, zeros.Equal(twoLayer([]float64{0, 0}, 0)))
}

func TestRoundErrorUnwrapsAndNamesKind(t *testing.T) {
	t.Parallel()

	err := error(&RoundError{Round: 4, ClientID: "client-1", Err: ErrNumeric})
	assert.ErrorIs(t, err, ErrNumeric)
	assert.Equal(t, "round 4: client client-1: numeric error", err.Error())
	assert.Equal(t, "NumericError", Kind(err))

	var roundErr *RoundError
	require.True(t, errors.As(err, &roundErr))
	assert.Equal(t, 4, roundErr.Round)

	assert.Equal(t, "unknown", Kind(errors.New("boom")))
}
