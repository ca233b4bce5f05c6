package stacker

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/photo-stacker/internal/constants"
	"github.com/kozaktomas/photo-stacker/internal/database"
)

// CandidateIndex wraps an in-memory HNSW graph over instance embeddings.
// The generator builds one per run from its snapshot and queries it during
// the confirmation stage; the graph never outlives the run.
type CandidateIndex struct {
	graph *hnsw.Graph[int64]
	dims  map[int64][]float32 // photo record id -> embedding
	mu    sync.RWMutex
}

// NewCandidateIndex builds an index from a map of photo record id to
// embedding vector. Empty vectors are skipped.
func NewCandidateIndex(embeddings map[int64][]float32) *CandidateIndex {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	dims := make(map[int64][]float32, len(embeddings))
	for id, emb := range embeddings {
		if len(emb) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(id, emb))
		dims[id] = emb
	}

	return &CandidateIndex{graph: g, dims: dims}
}

// Neighbor is one search hit with its cosine similarity to the query.
type Neighbor struct {
	PhotoRecordID int64
	Similarity    float64
}

// Search finds up to k nearest neighbors of the embedding stored for
// photoRecordID. The queried record itself is excluded from the results.
func (ix *CandidateIndex) Search(photoRecordID int64, k int) ([]Neighbor, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	query, ok := ix.dims[photoRecordID]
	if !ok {
		return nil, errors.New("no embedding for record")
	}

	// Ask for one extra node because the query record matches itself.
	nodes := ix.graph.Search(query, k+1)

	neighbors := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		if n.Key == photoRecordID {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			PhotoRecordID: n.Key,
			Similarity:    database.CosineSimilarity(query, n.Value),
		})
	}
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// Similarity returns the cosine similarity between two indexed records.
// The second return is false when either record has no embedding.
func (ix *CandidateIndex) Similarity(a, b int64) (float64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	va, okA := ix.dims[a]
	vb, okB := ix.dims[b]
	if !okA || !okB {
		return 0, false
	}
	return database.CosineSimilarity(va, vb), true
}

// Has reports whether the record has an embedding in the index.
func (ix *CandidateIndex) Has(photoRecordID int64) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.dims[photoRecordID]
	return ok
}

// Len returns the number of indexed embeddings.
func (ix *CandidateIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.dims)
}
