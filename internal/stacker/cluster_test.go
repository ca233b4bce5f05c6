package stacker

import (
	"testing"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// matrixSim builds a SimilarityFunc from a symmetric pairwise table keyed
// by photo record id. Pairs missing from the table have no signal.
func matrixSim(pairs map[[2]int64]float64) SimilarityFunc {
	return func(a, b database.InstanceDetail) (float64, bool) {
		if s, ok := pairs[[2]int64{a.PhotoRecordID, b.PhotoRecordID}]; ok {
			return s, true
		}
		if s, ok := pairs[[2]int64{b.PhotoRecordID, a.PhotoRecordID}]; ok {
			return s, true
		}
		return 0, false
	}
}

func record(id int64) database.InstanceDetail {
	d := database.InstanceDetail{}
	d.ID = id
	d.PhotoRecordID = id
	return d
}

func TestGreedyCluster(t *testing.T) {
	candidates := []database.InstanceDetail{record(3), record(1), record(2), record(4)}
	sim := matrixSim(map[[2]int64]float64{
		{1, 2}: 0.95, // joins cluster seeded by 1
		{1, 3}: 0.40,
		{3, 4}: 0.92, // joins cluster seeded by 3
	})

	clusters := GreedyCluster(candidates, 0.9, sim)

	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	// Processing order is ascending record id regardless of input order,
	// so record 1 seeds the first cluster.
	if clusters[0][0].PhotoRecordID != 1 || len(clusters[0]) != 2 {
		t.Errorf("first cluster = %v", recordIDs(clusters[0]))
	}
	if clusters[1][0].PhotoRecordID != 3 || len(clusters[1]) != 2 {
		t.Errorf("second cluster = %v", recordIDs(clusters[1]))
	}
}

func TestGreedyClusterBelowThreshold(t *testing.T) {
	candidates := []database.InstanceDetail{record(1), record(2)}
	sim := matrixSim(map[[2]int64]float64{
		{1, 2}: 0.80,
	})

	clusters := GreedyCluster(candidates, 0.9, sim)

	if len(clusters) != 2 {
		t.Fatalf("instances below threshold should stay apart, got %d clusters", len(clusters))
	}
}

func TestGreedyClusterJoinsClosestSeed(t *testing.T) {
	candidates := []database.InstanceDetail{record(1), record(2), record(3)}
	// Records 1 and 2 both seed clusters; 3 passes the threshold against
	// both but is closer to 2.
	sim := matrixSim(map[[2]int64]float64{
		{1, 2}: 0.10,
		{1, 3}: 0.91,
		{2, 3}: 0.97,
	})

	clusters := GreedyCluster(candidates, 0.9, sim)

	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	if len(clusters[1]) != 2 || clusters[1][1].PhotoRecordID != 3 {
		t.Errorf("record 3 should join the cluster seeded by 2, got %v", recordIDs(clusters[1]))
	}
}

func TestGreedyClusterDeterministic(t *testing.T) {
	sim := matrixSim(map[[2]int64]float64{
		{1, 2}: 0.95,
		{2, 3}: 0.93,
	})

	a := GreedyCluster([]database.InstanceDetail{record(1), record(2), record(3)}, 0.9, sim)
	b := GreedyCluster([]database.InstanceDetail{record(3), record(2), record(1)}, 0.9, sim)

	if len(a) != len(b) {
		t.Fatalf("cluster counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		ai, bi := recordIDs(a[i]), recordIDs(b[i])
		if len(ai) != len(bi) {
			t.Fatalf("cluster %d sizes differ: %v vs %v", i, ai, bi)
		}
		for j := range ai {
			if ai[j] != bi[j] {
				t.Errorf("cluster %d differs: %v vs %v", i, ai, bi)
			}
		}
	}
}

func recordIDs(cluster []database.InstanceDetail) []int64 {
	ids := make([]int64, len(cluster))
	for i, d := range cluster {
		ids[i] = d.PhotoRecordID
	}
	return ids
}
