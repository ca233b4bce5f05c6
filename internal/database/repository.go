package database

import (
	"context"
	"time"
)

// AssetStore owns the mapping between content identity (Asset) and file
// occurrences (Instance). It is the single source of truth for "is this
// the same content as that".
type AssetStore interface {
	// FindByHash looks up an asset by content hash, returns nil if not found.
	FindByHash(ctx context.Context, projectID int64, contentHash string) (*Asset, error)

	// CreateAssetIfMissing returns the existing asset id for the hash or
	// creates a new asset. Idempotent and safe under concurrent callers:
	// the unique constraint on (project_id, content_hash) is resolved by
	// re-reading on conflict.
	CreateAssetIfMissing(ctx context.Context, projectID int64, contentHash, perceptualHash string) (int64, error)

	// LinkInstance attaches a file occurrence to an asset. Idempotent on
	// (project_id, photo_record_id): re-linking the same occurrence
	// returns the existing instance id.
	LinkInstance(ctx context.Context, projectID, assetID int64, occ FileOccurrence) (int64, error)

	// ApplyLinks commits a batch of hash results in a single transaction:
	// for each link it creates the asset if missing and links the
	// instance, both idempotently. Returns the distinct asset ids that
	// gained an instance, for representative re-election. A failed batch
	// leaves no partial writes behind.
	ApplyLinks(ctx context.Context, projectID int64, links []InstanceLink) ([]int64, error)

	// SetRepresentative picks the display instance for an asset. Returns
	// ErrNotFound if the instance does not belong to the asset.
	SetRepresentative(ctx context.Context, projectID, assetID, instanceID int64) error

	// ListDuplicateAssets returns assets with at least minInstances linked
	// instances, ordered by instance count descending then asset id
	// ascending for determinism.
	ListDuplicateAssets(ctx context.Context, projectID int64, minInstances int) ([]AssetSummary, error)

	// InstancesWithoutAsset is the backfill backlog query: file
	// occurrences with no Instance yet, ordered by file id ascending
	// starting after afterID. The monotonic ordering makes the cursor
	// stable and resumable.
	InstancesWithoutAsset(ctx context.Context, projectID, afterID int64, limit int) ([]FileOccurrence, error)

	// InstanceDetailsForAsset returns the asset's instances joined with
	// file metadata, ordered by instance id.
	InstanceDetailsForAsset(ctx context.Context, projectID, assetID int64) ([]InstanceDetail, error)

	// ListInstanceDetails snapshots all linked instances with file
	// metadata for a project, ordered by photo record id. Used by the
	// stack generator as its candidate set.
	ListInstanceDetails(ctx context.Context, projectID int64) ([]InstanceDetail, error)

	// Progress reports scanned/linked/error counts for the project.
	Progress(ctx context.Context, projectID int64) (BackfillProgress, error)

	// RecordBackfillError persists a per-file failure so runs can report
	// "errors: N of M files" without aborting.
	RecordBackfillError(ctx context.Context, projectID, fileID int64, message string) error
}

// StackStore owns materialized groupings. Stacks are derived data: they are
// replaced wholesale per (project, stack_type, rule_version), never patched.
type StackStore interface {
	CreateStack(ctx context.Context, projectID int64, stackType StackType, representativeInstance int64, ruleVersion string) (int64, error)

	// AddMembersBatch bulk-inserts members. Returns ErrInvariant, before
	// any row is committed, if a member already belongs to another stack
	// of the same type (stacks of one type partition their members).
	AddMembersBatch(ctx context.Context, projectID, stackID int64, members []StackMember) error

	// ClearStacksByType deletes all stacks of a type, optionally scoped to
	// one rule version (empty string means any). Members and meta cascade.
	ClearStacksByType(ctx context.Context, projectID int64, stackType StackType, ruleVersion string) (int64, error)

	// ListStacks pages stack summaries, newest first then id ascending.
	// An empty stackType lists all types.
	ListStacks(ctx context.Context, projectID int64, stackType StackType, limit, offset int) ([]StackSummary, error)

	// ListMembers returns members ordered by rank ascending, then
	// similarity score descending.
	ListMembers(ctx context.Context, projectID, stackID int64) ([]StackMember, error)

	FindStacksForInstance(ctx context.Context, projectID, instanceID int64) ([]int64, error)

	// WriteMeta attaches the generation parameters to a stack for
	// auditability. Write-once: a second write returns ErrConflict.
	WriteMeta(ctx context.Context, projectID, stackID int64, params any) error
}

// LeaseStore implements the claim protocol that keeps at most one backfill
// run per project. Crash recovery is by expiry alone: a dead owner's lease
// simply times out.
type LeaseStore interface {
	// Acquire claims the project lease for owner. Returns false while a
	// live lease is held by someone else.
	Acquire(ctx context.Context, projectID int64, owner string, ttl time.Duration) (bool, error)

	// Renew extends the lease expiry (heartbeat). Returns ErrNotFound if
	// the lease is no longer held by owner.
	Renew(ctx context.Context, projectID int64, owner string, ttl time.Duration) error

	// Release drops the lease if still held by owner.
	Release(ctx context.Context, projectID int64, owner string) error
}

// EmbeddingReader provides read-only access to the embedding collaborator's
// vectors. A missing embedding means "no similarity signal", not an error.
type EmbeddingReader interface {
	// Get retrieves an embedding by photo record id, returns nil if not found.
	Get(ctx context.Context, photoRecordID int64) (*StoredEmbedding, error)

	// GetByRecordIDs fetches vectors for a batch of photo record ids.
	// Missing ids are simply absent from the result map.
	GetByRecordIDs(ctx context.Context, photoRecordIDs []int64) (map[int64][]float32, error)

	// Count returns the total number of embeddings stored.
	Count(ctx context.Context) (int, error)
}
