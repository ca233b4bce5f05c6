// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Backfill constants
const (
	// DefaultBatchSize is the number of file occurrences processed per
	// backfill batch. Each batch is committed in one transaction.
	DefaultBatchSize = 500

	// LeaseTTLSeconds is how long a backfill lease stays valid without a
	// heartbeat. A crashed run becomes re-claimable after this interval.
	LeaseTTLSeconds = 120
)

// Stack generation constants
const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for two
	// instances to be considered the same shot.
	DefaultSimilarityThreshold = 0.90

	// DefaultHammingThreshold is the maximum perceptual-hash Hamming
	// distance for the candidate narrowing stage.
	DefaultHammingThreshold = 10

	// DefaultCaptureWindowSeconds bounds the capture-time bucketing window
	// used to narrow burst candidates.
	DefaultCaptureWindowSeconds = 5

	// DefaultRuleVersion tags stacks produced with the built-in parameters.
	DefaultRuleVersion = "v1"
)

// HNSW parameters for the in-memory candidate index
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// NeighborSearchLimit is how many nearest neighbors the generator pulls
	// per record when building embedding edges during candidate narrowing.
	NeighborSearchLimit = 16
)

// Handler constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100

	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100
)

// Scanner sync constants
const (
	// SyncPageSize is the number of scanner rows fetched per page during sync
	SyncPageSize = 1000
)
