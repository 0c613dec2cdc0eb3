package data

import (
	"fmt"
	"math/rand"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
)

// Partitioner deals examples to clients round-robin, optionally after a seeded shuffle,
// so shard sizes differ by at most one.
type Partitioner struct {
	Seed    int64
	Shuffle bool
}

func NewPartitioner(seed int64, shuffle bool) *Partitioner {
	return &Partitioner{Seed: seed, Shuffle: shuffle}
}

func (p *Partitioner) Partition(ds Dataset, clientsNum int, batchSize int) ([]model.ClientDataset, error) {
	if clientsNum < 1 {
		return nil, fmt.Errorf("clients must be >= 1, got %d: %w", clientsNum, model.ErrConfiguration)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d: %w", batchSize, model.ErrConfiguration)
	}
	if ds.Len() < clientsNum {
		return nil, fmt.Errorf("%d examples cannot be split between %d clients: %w", ds.Len(), clientsNum, model.ErrConfiguration)
	}

	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}
	if p.Shuffle {
		rng := rand.New(rand.NewSource(p.Seed))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	shards := make([]Dataset, clientsNum)
	for pos, idx := range order {
		shard := &shards[pos%clientsNum]
		shard.X = append(shard.X, ds.X[idx])
		shard.Y = append(shard.Y, ds.Y[idx])
	}

	datasets := make([]model.ClientDataset, clientsNum)
	for c, shard := range shards {
		batches, err := Batches(shard, batchSize)
		if err != nil {
			return nil, err
		}
		datasets[c] = model.ClientDataset{
			ClientID: common.GetClientId(c),
			Batches:  batches,
		}
	}

	return datasets, nil
}
