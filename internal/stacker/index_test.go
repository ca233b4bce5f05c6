package stacker

import (
	"testing"
)

func TestCandidateIndexSearch(t *testing.T) {
	// unitVec(c) has cosine similarity c with unitVec(1).
	index := NewCandidateIndex(map[int64][]float32{
		1: unitVec(1),
		2: unitVec(0.99),
		3: unitVec(0.5),
		4: unitVec(0),
	})

	neighbors, err := index.Search(1, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(neighbors))
	}
	if neighbors[0].PhotoRecordID != 2 {
		t.Errorf("expected record 2 as closest neighbor, got %d", neighbors[0].PhotoRecordID)
	}
	if neighbors[0].Similarity < 0.98 {
		t.Errorf("expected high similarity for closest neighbor, got %f", neighbors[0].Similarity)
	}
	for _, n := range neighbors {
		if n.PhotoRecordID == 1 {
			t.Error("query record must be excluded from its own results")
		}
	}
}

func TestCandidateIndexSearchUnknownRecord(t *testing.T) {
	index := NewCandidateIndex(map[int64][]float32{1: unitVec(1)})

	if _, err := index.Search(99, 3); err == nil {
		t.Error("expected error for record without embedding")
	}
}

func TestCandidateIndexSimilarity(t *testing.T) {
	index := NewCandidateIndex(map[int64][]float32{
		1: unitVec(1),
		2: unitVec(0.9),
	})

	s, ok := index.Similarity(1, 2)
	if !ok {
		t.Fatal("expected similarity signal for indexed records")
	}
	if s < 0.89 || s > 0.91 {
		t.Errorf("expected similarity near 0.9, got %f", s)
	}

	if _, ok := index.Similarity(1, 99); ok {
		t.Error("expected no signal for unindexed record")
	}
}

func TestCandidateIndexSkipsEmptyVectors(t *testing.T) {
	index := NewCandidateIndex(map[int64][]float32{
		1: unitVec(1),
		2: {},
		3: nil,
	})

	if index.Len() != 1 {
		t.Errorf("expected 1 indexed embedding, got %d", index.Len())
	}
	if !index.Has(1) || index.Has(2) || index.Has(3) {
		t.Error("expected only record 1 to be indexed")
	}
}
