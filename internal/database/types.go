package database

import (
	"time"
)

// StackType identifies the tolerance level of a materialized grouping.
type StackType string

// Stack types. Duplicate stacks contain byte-identical content only;
// the other types may span multiple assets.
const (
	StackTypeDuplicate     StackType = "duplicate"
	StackTypeNearDuplicate StackType = "near_duplicate"
	StackTypeSimilar       StackType = "similar"
	StackTypeBurst         StackType = "burst"
)

// ValidStackType reports whether t is one of the known stack types.
func ValidStackType(t StackType) bool {
	switch t {
	case StackTypeDuplicate, StackTypeNearDuplicate, StackTypeSimilar, StackTypeBurst:
		return true
	}
	return false
}

// Asset is a unique content identity. Exactly one Asset exists per distinct
// content hash within a project, and an Asset always has at least one
// linked Instance.
type Asset struct {
	ID             int64
	ProjectID      int64
	ContentHash    string
	PerceptualHash string // hex-encoded 64-bit signature, empty until computed
	// RepresentativeID points at the Instance chosen for display.
	// Nil only transiently, before the first election.
	RepresentativeID *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Instance is one file-system occurrence of an Asset's content.
type Instance struct {
	ID            int64
	ProjectID     int64
	AssetID       int64
	PhotoRecordID int64
	SourcePath    string
	SourceDevice  string
	ImportSession string
	CreatedAt     time.Time
}

// FileOccurrence mirrors one row of the scanner's append-only file table.
// The core only reads these rows and attaches Instance linkage.
type FileOccurrence struct {
	ID            int64
	ProjectID     int64
	Path          string
	SizeBytes     int64
	CapturedAt    *time.Time
	Width         int
	Height        int
	SourceDevice  string
	ImportSession string
	Screenshot    bool
}

// InstanceDetail joins an Instance with its file-occurrence metadata.
// The stack generator and the representative selector operate on these.
type InstanceDetail struct {
	Instance

	Path           string
	SizeBytes      int64
	Width          int
	Height         int
	CapturedAt     *time.Time
	Screenshot     bool
	PerceptualHash string
}

// InstanceLink pairs a hashed file occurrence with its content identity.
// The backfill engine produces one per successfully hashed file.
type InstanceLink struct {
	Occurrence     FileOccurrence
	ContentHash    string
	PerceptualHash string
}

// Stack is a materialized grouping of Instances believed to represent the
// same shot at some tolerance level.
type Stack struct {
	ID               int64
	ProjectID        int64
	Type             StackType
	RepresentativeID int64
	RuleVersion      string
	CreatedAt        time.Time
}

// StackMember is the join row between a Stack and an Instance.
// Score is nil for exact duplicates (exactness implies no gradation).
// The representative always has rank 0.
type StackMember struct {
	StackID       int64
	PhotoRecordID int64
	InstanceID    int64
	Score         *float64
	Rank          int
}

// AssetSummary is the query shape for duplicate-asset listings.
type AssetSummary struct {
	AssetID          int64
	ContentHash      string
	InstanceCount    int
	RepresentativeID *int64
}

// StackSummary is the query shape for stack listings.
type StackSummary struct {
	ID               int64
	Type             StackType
	RuleVersion      string
	RepresentativeID int64
	MemberCount      int
	CreatedAt        time.Time
}

// BackfillProgress reports the state of the backfill backlog for a project.
type BackfillProgress struct {
	Scanned int `json:"scanned"` // file occurrences known to the scanner
	Linked  int `json:"linked"`  // occurrences with an Instance
	Total   int `json:"total"`   // alias of Scanned, kept for UI compatibility
	Errors  int `json:"errors"`  // per-file failures recorded during runs
}

// Lease is a time-bounded ownership claim over a project's backfill work.
type Lease struct {
	ProjectID int64
	Owner     string
	ExpiresAt time.Time
}

// StoredEmbedding represents an embedding vector stored in the database.
type StoredEmbedding struct {
	PhotoRecordID int64
	Embedding     []float32
	Model         string
	Dim           int
	CreatedAt     time.Time
}
