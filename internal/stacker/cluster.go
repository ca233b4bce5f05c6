package stacker

import (
	"sort"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// SimilarityFunc reports the similarity between two instances in [0, 1].
// The second return is false when no similarity signal exists for the pair
// (for example, neither instance has an embedding).
type SimilarityFunc func(a, b database.InstanceDetail) (float64, bool)

// GreedyCluster groups candidates by similarity using greedy union: each
// unclustered instance seeds a new cluster, later instances join the
// closest existing cluster seed when the similarity meets the threshold.
// Candidates are processed in ascending photo record id order, so the same
// input always produces the same clusters. Singleton clusters are included;
// callers filter by size.
func GreedyCluster(candidates []database.InstanceDetail, threshold float64, sim SimilarityFunc) [][]database.InstanceDetail {
	ordered := make([]database.InstanceDetail, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].PhotoRecordID < ordered[j].PhotoRecordID
	})

	var clusters [][]database.InstanceDetail
	var seeds []database.InstanceDetail

	for _, cand := range ordered {
		bestIdx := -1
		bestSim := threshold
		for i, seed := range seeds {
			s, ok := sim(cand, seed)
			if !ok {
				continue
			}
			if s > bestSim || (s == bestSim && bestIdx == -1) {
				bestSim = s
				bestIdx = i
			}
		}

		if bestIdx >= 0 {
			clusters[bestIdx] = append(clusters[bestIdx], cand)
			continue
		}
		clusters = append(clusters, []database.InstanceDetail{cand})
		seeds = append(seeds, cand)
	}

	return clusters
}
