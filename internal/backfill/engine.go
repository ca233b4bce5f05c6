package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-stacker/internal/constants"
	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/stacker"
)

// ErrLeaseHeld is returned when another owner holds a live backfill lease
// for the project.
var ErrLeaseHeld = errors.New("backfill lease held by another owner")

// State describes where an engine is in its run lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateClaimed   State = "claimed"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// FileHasher computes the content identity of a file occurrence.
type FileHasher interface {
	HashFile(occ database.FileOccurrence) (contentHash, perceptualHash string, err error)
}

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Current int
	Total   int
	Message string
}

// Options configures a single backfill run.
type Options struct {
	ProjectID int64
	BatchSize int           // defaults to constants.DefaultBatchSize
	LeaseTTL  time.Duration // defaults to constants.LeaseTTLSeconds
	Owner     string        // defaults to a fresh uuid
	// OnProgress is called after every committed batch.
	OnProgress func(ProgressInfo)
}

// RunResult summarizes a completed run.
type RunResult struct {
	Scanned int           `json:"scanned"` // backlog rows visited
	Linked  int           `json:"linked"`  // instances created or confirmed
	Errors  int           `json:"errors"`  // per-file failures recorded
	Elapsed time.Duration `json:"elapsed"`
}

// String renders the run summary, including the error tally.
func (r *RunResult) String() string {
	return fmt.Sprintf("linked %d, errors: %d of %d files (%s)",
		r.Linked, r.Errors, r.Scanned, r.Elapsed.Round(time.Millisecond))
}

// Engine links file occurrences to content-identity assets. A run claims
// the project lease, walks the backlog in id order and commits one batch
// per transaction, so a crashed run resumes by simply re-reading the
// backlog. Per-file failures are recorded and skipped, never fatal.
type Engine struct {
	assets database.AssetStore
	leases database.LeaseStore
	hasher FileHasher

	mu    sync.Mutex
	state State
}

// New creates a backfill engine.
func New(assets database.AssetStore, leases database.LeaseStore, hasher FileHasher) *Engine {
	return &Engine{
		assets: assets,
		leases: leases,
		hasher: hasher,
		state:  StateIdle,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run processes the project's backlog to completion. Cancellation is
// cooperative: it is checked at batch boundaries, the current batch is
// already committed when the run exits.
func (e *Engine) Run(ctx context.Context, opts Options) (*RunResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.DefaultBatchSize
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = constants.LeaseTTLSeconds * time.Second
	}
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}

	e.setState(StateClaimed)
	ok, err := e.leases.Acquire(ctx, opts.ProjectID, opts.Owner, opts.LeaseTTL)
	if err != nil {
		e.setState(StateFailed)
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		e.setState(StateIdle)
		return nil, ErrLeaseHeld
	}
	defer func() {
		// Best effort, an unreleased lease expires on its own.
		_ = e.leases.Release(context.WithoutCancel(ctx), opts.ProjectID, opts.Owner)
	}()

	e.setState(StateRunning)
	start := time.Now()
	result := &RunResult{}

	progress, err := e.assets.Progress(ctx, opts.ProjectID)
	if err != nil {
		e.setState(StateFailed)
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}
	total := progress.Scanned
	current := progress.Linked

	var afterID int64
	for {
		if ctx.Err() != nil {
			e.setState(StateFailed)
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		}

		batch, err := e.assets.InstancesWithoutAsset(ctx, opts.ProjectID, afterID, opts.BatchSize)
		if err != nil {
			e.setState(StateFailed)
			return result, fmt.Errorf("failed to read backlog: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		links := make([]database.InstanceLink, 0, len(batch))
		for _, occ := range batch {
			contentHash, perceptualHash, err := e.hasher.HashFile(occ)
			if err != nil {
				if recErr := e.assets.RecordBackfillError(ctx, opts.ProjectID, occ.ID, err.Error()); recErr != nil {
					e.setState(StateFailed)
					return result, fmt.Errorf("failed to record file error: %w", recErr)
				}
				result.Errors++
				continue
			}
			links = append(links, database.InstanceLink{
				Occurrence:     occ,
				ContentHash:    contentHash,
				PerceptualHash: perceptualHash,
			})
		}

		touched, err := e.assets.ApplyLinks(ctx, opts.ProjectID, links)
		if err != nil {
			e.setState(StateFailed)
			return result, fmt.Errorf("failed to commit batch: %w", err)
		}

		if err := e.electRepresentatives(ctx, opts.ProjectID, touched); err != nil {
			e.setState(StateFailed)
			return result, err
		}

		// Heartbeat. Losing the lease means another owner may already be
		// working, continuing would double-process the backlog.
		if err := e.leases.Renew(ctx, opts.ProjectID, opts.Owner, opts.LeaseTTL); err != nil {
			e.setState(StateFailed)
			return result, fmt.Errorf("lost backfill lease: %w", err)
		}

		afterID = batch[len(batch)-1].ID
		result.Scanned += len(batch)
		result.Linked += len(links)
		current += len(links)

		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Current: current,
				Total:   total,
				Message: fmt.Sprintf("linked %d of %d files", current, total),
			})
		}
	}

	e.setState(StateCompleted)
	result.Elapsed = time.Since(start)
	return result, nil
}

// electRepresentatives re-runs representative selection for every asset
// that gained an instance in the batch. Assets with a single instance keep
// the seed chosen at link time.
func (e *Engine) electRepresentatives(ctx context.Context, projectID int64, assetIDs []int64) error {
	for _, assetID := range assetIDs {
		details, err := e.assets.InstanceDetailsForAsset(ctx, projectID, assetID)
		if err != nil {
			return fmt.Errorf("failed to load instances for asset %d: %w", assetID, err)
		}
		if len(details) < 2 {
			continue
		}
		rep, ok := stacker.SelectRepresentative(details)
		if !ok {
			continue
		}
		if err := e.assets.SetRepresentative(ctx, projectID, assetID, rep.ID); err != nil {
			return fmt.Errorf("failed to set representative for asset %d: %w", assetID, err)
		}
	}
	return nil
}
