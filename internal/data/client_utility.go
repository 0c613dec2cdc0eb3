package data

import (
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/linreg"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"gonum.org/v1/gonum/stat"
)

const distributionBins = 10

// minShare stands in for empty bins so the divergence stays finite.
const minShare = 0.0001

// ClientUtility scores how much a client's shard contributes to the federation.
type ClientUtility struct {
	ClientID string
	// DatasetSizeScore is the client's share of all training examples.
	DatasetSizeScore float64
	// DataDistributionScore is KL(all labels || labels without this client) over a
	// histogram of the label range; it grows with how unusual the shard is.
	DataDistributionScore float64
}

func CalculateClientUtilities(datasets []model.ClientDataset) []ClientUtility {
	labels := make([][]float64, len(datasets))
	lo, hi := 0.0, 0.0
	first := true
	total := 0
	for c, ds := range datasets {
		for _, batch := range ds.Batches {
			b, ok := batch.(linreg.Batch)
			if !ok {
				continue
			}
			for _, y := range b.Y {
				if first || y < lo {
					lo = y
				}
				if first || y > hi {
					hi = y
				}
				first = false
			}
			labels[c] = append(labels[c], b.Y...)
		}
		total += len(labels[c])
	}

	counts := make([][]float64, len(datasets))
	overall := make([]float64, distributionBins)
	for c := range datasets {
		counts[c] = make([]float64, distributionBins)
		for _, y := range labels[c] {
			bin := 0
			if hi > lo {
				bin = min(int((y-lo)/(hi-lo)*distributionBins), distributionBins-1)
			}
			counts[c][bin]++
			overall[bin]++
		}
	}

	utilities := make([]ClientUtility, len(datasets))
	for c, ds := range datasets {
		without := make([]float64, distributionBins)
		for bin := range without {
			without[bin] = overall[bin] - counts[c][bin]
		}

		utilities[c] = ClientUtility{
			ClientID:              ds.ClientID,
			DataDistributionScore: stat.KullbackLeibler(getDistribution(overall), getDistribution(without)),
		}
		if total > 0 {
			utilities[c].DatasetSizeScore = float64(len(labels[c])) / float64(total)
		}
	}

	return utilities
}

func getDistribution(counts []float64) []float64 {
	total := 0.0
	for _, n := range counts {
		total += n
	}

	distribution := make([]float64, len(counts))
	for i, n := range counts {
		share := 0.0
		if total > 0 {
			share = n / total
		}
		if share == 0 {
			share = minShare
		}
		distribution[i] = share
	}
	return distribution
}
