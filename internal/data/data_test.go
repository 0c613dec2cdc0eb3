package data

import (
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/linreg"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsSeededAndSplit(t *testing.T) {
	t.Parallel()

	opts := GenerateOptions{Samples: 100, Features: 3, Noise: 0.1, TestFraction: 0.2, Seed: 7}
	a, err := Generate(opts)
	require.NoError(t, err)
	b, err := Generate(opts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 80, a.Train.Len())
	assert.Equal(t, 20, a.Test.Len())
	assert.Len(t, a.TrueWeights, 3)
	for _, x := range a.Train.X {
		assert.Len(t, x, 3)
	}

	opts.Seed = 8
	c, err := Generate(opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.TrueWeights, c.TrueWeights)
}

func TestGenerateWithoutNoiseFollowsTrueModel(t *testing.T) {
	t.Parallel()

	s, err := Generate(GenerateOptions{Samples: 10, Features: 2, Seed: 3})
	require.NoError(t, err)

	for i, x := range s.Train.X {
		want := s.TrueBias + x[0]*s.TrueWeights[0] + x[1]*s.TrueWeights[1]
		assert.InDelta(t, want, s.Train.Y[i], 1e-12)
	}
}

func TestGenerateRejectsBadOptions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		opts GenerateOptions
	}{
		{name: "no samples", opts: GenerateOptions{Features: 1}},
		{name: "no features", opts: GenerateOptions{Samples: 1}},
		{name: "test fraction one", opts: GenerateOptions{Samples: 1, Features: 1, TestFraction: 1}},
		{name: "negative noise", opts: GenerateOptions{Samples: 1, Features: 1, Noise: -1}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Generate(tc.opts)
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()

	ds := Dataset{X: [][]float64{{1}, {2}, {3}, {4}, {5}}, Y: []float64{1, 2, 3, 4, 5}}
	batches, err := Batches(ds, 2)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Equal(t, 2, batches[0].Len())
	assert.Equal(t, 1, batches[2].Len())
	assert.Equal(t, []float64{5}, batches[2].(linreg.Batch).Y)

	empty, err := Batches(Dataset{}, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Batches(ds, 0)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestPartitionCoversEveryExampleOnce(t *testing.T) {
	t.Parallel()

	ds := Dataset{}
	for i := 0; i < 11; i++ {
		ds.X = append(ds.X, []float64{float64(i)})
		ds.Y = append(ds.Y, float64(i))
	}

	for _, shuffle := range []bool{false, true} {
		datasets, err := NewPartitioner(5, shuffle).Partition(ds, 3, 2)
		require.NoError(t, err)
		require.Len(t, datasets, 3)

		seen := map[float64]int{}
		sizes := []int{}
		for c, client := range datasets {
			assert.Equal(t, []string{"client-0", "client-1", "client-2"}[c], client.ClientID)
			sizes = append(sizes, client.NumExamples())
			for _, batch := range client.Batches {
				assert.LessOrEqual(t, batch.Len(), 2)
				for _, y := range batch.(linreg.Batch).Y {
					seen[y]++
				}
			}
		}
		assert.Len(t, seen, 11)
		for y, n := range seen {
			assert.Equal(t, 1, n, "example %v", y)
		}
		assert.ElementsMatch(t, []int{4, 4, 3}, sizes)
	}
}

func TestPartitionIsDeterministic(t *testing.T) {
	t.Parallel()

	s, err := Generate(GenerateOptions{Samples: 50, Features: 2, Seed: 1})
	require.NoError(t, err)

	a, err := NewPartitioner(9, true).Partition(s.Train, 4, 5)
	require.NoError(t, err)
	b, err := NewPartitioner(9, true).Partition(s.Train, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPartitionRejectsBadArguments(t *testing.T) {
	t.Parallel()

	ds := Dataset{X: [][]float64{{1}, {2}}, Y: []float64{1, 2}}
	p := NewPartitioner(1, false)

	_, err := p.Partition(ds, 0, 1)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	_, err = p.Partition(ds, 1, 0)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	_, err = p.Partition(ds, 3, 1)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
