package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// memStore is an in-memory stand-in for the asset repository. It mimics
// the transactional contract of ApplyLinks: a failing call writes nothing.
type memStore struct {
	database.AssetStore

	files        []database.FileOccurrence
	nextAssetID  int64
	nextInstID   int64
	assetsByHash map[string]int64
	instByRecord map[int64]int64                     // photo record id -> asset id
	instances    map[int64][]database.InstanceDetail // asset id -> details
	reps         map[int64]int64                     // asset id -> representative instance
	fileErrors   map[int64]string

	applyCalls int
	failApply  func(call int) error
}

func newMemStore(files []database.FileOccurrence) *memStore {
	return &memStore{
		files:        files,
		assetsByHash: make(map[string]int64),
		instByRecord: make(map[int64]int64),
		instances:    make(map[int64][]database.InstanceDetail),
		reps:         make(map[int64]int64),
		fileErrors:   make(map[int64]string),
	}
}

func (m *memStore) InstancesWithoutAsset(_ context.Context, _ int64, afterID int64, limit int) ([]database.FileOccurrence, error) {
	var out []database.FileOccurrence
	for _, f := range m.files {
		if f.ID <= afterID {
			continue
		}
		if _, linked := m.instByRecord[f.ID]; linked {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ApplyLinks(_ context.Context, projectID int64, links []database.InstanceLink) ([]int64, error) {
	m.applyCalls++
	if m.failApply != nil {
		if err := m.failApply(m.applyCalls); err != nil {
			return nil, err
		}
	}

	var touched []int64
	seen := make(map[int64]bool)
	for _, link := range links {
		if _, linked := m.instByRecord[link.Occurrence.ID]; linked {
			continue
		}
		assetID, ok := m.assetsByHash[link.ContentHash]
		if !ok {
			m.nextAssetID++
			assetID = m.nextAssetID
			m.assetsByHash[link.ContentHash] = assetID
		}

		m.nextInstID++
		d := database.InstanceDetail{
			Path:           link.Occurrence.Path,
			SizeBytes:      link.Occurrence.SizeBytes,
			Width:          link.Occurrence.Width,
			Height:         link.Occurrence.Height,
			CapturedAt:     link.Occurrence.CapturedAt,
			Screenshot:     link.Occurrence.Screenshot,
			PerceptualHash: link.PerceptualHash,
		}
		d.ID = m.nextInstID
		d.ProjectID = projectID
		d.AssetID = assetID
		d.PhotoRecordID = link.Occurrence.ID

		m.instByRecord[link.Occurrence.ID] = assetID
		m.instances[assetID] = append(m.instances[assetID], d)
		if _, hasRep := m.reps[assetID]; !hasRep {
			m.reps[assetID] = d.ID
		}
		delete(m.fileErrors, link.Occurrence.ID)

		if !seen[assetID] {
			seen[assetID] = true
			touched = append(touched, assetID)
		}
	}
	return touched, nil
}

func (m *memStore) InstanceDetailsForAsset(_ context.Context, _ int64, assetID int64) ([]database.InstanceDetail, error) {
	return m.instances[assetID], nil
}

func (m *memStore) SetRepresentative(_ context.Context, _ int64, assetID, instanceID int64) error {
	for _, d := range m.instances[assetID] {
		if d.ID == instanceID {
			m.reps[assetID] = instanceID
			return nil
		}
	}
	return database.ErrNotFound
}

func (m *memStore) Progress(_ context.Context, _ int64) (database.BackfillProgress, error) {
	linked := len(m.instByRecord)
	return database.BackfillProgress{
		Scanned: len(m.files),
		Linked:  linked,
		Total:   len(m.files),
		Errors:  len(m.fileErrors),
	}, nil
}

func (m *memStore) RecordBackfillError(_ context.Context, _ int64, fileID int64, message string) error {
	m.fileErrors[fileID] = message
	return nil
}

type memLeases struct {
	owner   string
	expires time.Time
}

func (l *memLeases) Acquire(_ context.Context, _ int64, owner string, ttl time.Duration) (bool, error) {
	if l.owner != "" && l.owner != owner && time.Now().Before(l.expires) {
		return false, nil
	}
	l.owner = owner
	l.expires = time.Now().Add(ttl)
	return true, nil
}

func (l *memLeases) Renew(_ context.Context, _ int64, owner string, ttl time.Duration) error {
	if l.owner != owner || time.Now().After(l.expires) {
		return database.ErrNotFound
	}
	l.expires = time.Now().Add(ttl)
	return nil
}

func (l *memLeases) Release(_ context.Context, _ int64, owner string) error {
	if l.owner == owner {
		l.owner = ""
	}
	return nil
}

// mapHasher resolves hashes from a fixed table keyed by path.
type mapHasher struct {
	hashes map[string]string
	fails  map[string]bool
}

func (h *mapHasher) HashFile(occ database.FileOccurrence) (string, string, error) {
	if h.fails[occ.Path] {
		return "", "", fmt.Errorf("failed to read %s: unreadable", occ.Path)
	}
	return h.hashes[occ.Path], "", nil
}

func occurrence(id int64, path string, width, height int) database.FileOccurrence {
	return database.FileOccurrence{
		ID:        id,
		ProjectID: 1,
		Path:      path,
		SizeBytes: 1000,
		Width:     width,
		Height:    height,
	}
}

func TestRunLinksIdenticalFiles(t *testing.T) {
	// Three byte-identical files, the third at a higher resolution.
	store := newMemStore([]database.FileOccurrence{
		occurrence(1, "a.jpg", 1000, 1000),
		occurrence(2, "b.jpg", 1000, 1000),
		occurrence(3, "c.jpg", 4000, 3000),
	})
	hasher := &mapHasher{hashes: map[string]string{
		"a.jpg": "hash-x", "b.jpg": "hash-x", "c.jpg": "hash-x",
	}}

	engine := New(store, &memLeases{}, hasher)
	result, err := engine.Run(context.Background(), Options{ProjectID: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Linked != 3 {
		t.Errorf("linked = %d; want 3", result.Linked)
	}
	if len(store.assetsByHash) != 1 {
		t.Fatalf("expected exactly one asset, got %d", len(store.assetsByHash))
	}
	assetID := store.assetsByHash["hash-x"]
	if len(store.instances[assetID]) != 3 {
		t.Errorf("expected 3 instances, got %d", len(store.instances[assetID]))
	}

	// The highest-resolution instance wins the election.
	var wantRep int64
	for _, d := range store.instances[assetID] {
		if d.PhotoRecordID == 3 {
			wantRep = d.ID
		}
	}
	if store.reps[assetID] != wantRep {
		t.Errorf("representative = %d; want %d", store.reps[assetID], wantRep)
	}

	if engine.State() != StateCompleted {
		t.Errorf("state = %s; want %s", engine.State(), StateCompleted)
	}
}

func TestRunIdempotent(t *testing.T) {
	store := newMemStore([]database.FileOccurrence{
		occurrence(1, "a.jpg", 1000, 1000),
		occurrence(2, "b.jpg", 1000, 1000),
	})
	hasher := &mapHasher{hashes: map[string]string{
		"a.jpg": "hash-a", "b.jpg": "hash-b",
	}}
	engine := New(store, &memLeases{}, hasher)

	if _, err := engine.Run(context.Background(), Options{ProjectID: 1}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	instancesAfterFirst := len(store.instByRecord)

	second, err := engine.Run(context.Background(), Options{ProjectID: 1})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if second.Scanned != 0 {
		t.Errorf("second run scanned %d rows; want 0", second.Scanned)
	}
	if len(store.instByRecord) != instancesAfterFirst {
		t.Errorf("second run changed instances: %d vs %d", len(store.instByRecord), instancesAfterFirst)
	}
	if len(store.assetsByHash) != 2 {
		t.Errorf("expected 2 assets, got %d", len(store.assetsByHash))
	}
}

func TestRunRecordsFileErrors(t *testing.T) {
	store := newMemStore([]database.FileOccurrence{
		occurrence(1, "a.jpg", 1000, 1000),
		occurrence(2, "broken.jpg", 1000, 1000),
		occurrence(3, "c.jpg", 1000, 1000),
	})
	hasher := &mapHasher{
		hashes: map[string]string{"a.jpg": "hash-a", "c.jpg": "hash-c"},
		fails:  map[string]bool{"broken.jpg": true},
	}
	engine := New(store, &memLeases{}, hasher)

	result, err := engine.Run(context.Background(), Options{ProjectID: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Errors != 1 {
		t.Errorf("errors = %d; want 1", result.Errors)
	}
	if result.Linked != 2 {
		t.Errorf("linked = %d; want 2", result.Linked)
	}
	if _, ok := store.fileErrors[2]; !ok {
		t.Error("failure for file 2 should be recorded")
	}

	// The file becomes readable; the next run links it and clears the error.
	hasher.fails = nil
	hasher.hashes["broken.jpg"] = "hash-b"

	retry, err := engine.Run(context.Background(), Options{ProjectID: 1})
	if err != nil {
		t.Fatalf("retry run failed: %v", err)
	}
	if retry.Linked != 1 {
		t.Errorf("retry linked = %d; want 1", retry.Linked)
	}
	if _, ok := store.fileErrors[2]; ok {
		t.Error("error for file 2 should be cleared after a successful link")
	}
}

func TestRunLeaseHeld(t *testing.T) {
	store := newMemStore([]database.FileOccurrence{occurrence(1, "a.jpg", 1000, 1000)})
	leases := &memLeases{}
	if ok, _ := leases.Acquire(context.Background(), 1, "other-owner", time.Minute); !ok {
		t.Fatal("setup: lease acquisition failed")
	}

	engine := New(store, leases, &mapHasher{hashes: map[string]string{"a.jpg": "h"}})
	_, err := engine.Run(context.Background(), Options{ProjectID: 1, Owner: "me"})

	if !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("err = %v; want ErrLeaseHeld", err)
	}
	if len(store.instByRecord) != 0 {
		t.Error("no work should happen without the lease")
	}
}

func TestRunCancellationAtBatchBoundary(t *testing.T) {
	store := newMemStore([]database.FileOccurrence{
		occurrence(1, "a.jpg", 1000, 1000),
		occurrence(2, "b.jpg", 1000, 1000),
		occurrence(3, "c.jpg", 1000, 1000),
	})
	hasher := &mapHasher{hashes: map[string]string{
		"a.jpg": "ha", "b.jpg": "hb", "c.jpg": "hc",
	}}
	engine := New(store, &memLeases{}, hasher)

	ctx, cancel := context.WithCancel(context.Background())
	result, err := engine.Run(ctx, Options{
		ProjectID: 1,
		BatchSize: 1,
		OnProgress: func(ProgressInfo) {
			cancel() // request cancellation after the first committed batch
		},
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
	if result.Scanned != 1 {
		t.Errorf("scanned = %d; want 1", result.Scanned)
	}
	// The committed batch survives.
	if len(store.instByRecord) != 1 {
		t.Errorf("expected 1 linked instance after cancel, got %d", len(store.instByRecord))
	}
}

func TestRunResumesAfterFailure(t *testing.T) {
	store := newMemStore([]database.FileOccurrence{
		occurrence(1, "a.jpg", 1000, 1000),
		occurrence(2, "b.jpg", 1000, 1000),
	})
	hasher := &mapHasher{hashes: map[string]string{
		"a.jpg": "ha", "b.jpg": "hb",
	}}
	// The second batch commit fails; its writes never land.
	store.failApply = func(call int) error {
		if call == 2 {
			return errors.New("connection reset")
		}
		return nil
	}

	engine := New(store, &memLeases{}, hasher)
	_, err := engine.Run(context.Background(), Options{ProjectID: 1, BatchSize: 1})
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if engine.State() != StateFailed {
		t.Errorf("state = %s; want %s", engine.State(), StateFailed)
	}
	if len(store.instByRecord) != 1 {
		t.Fatalf("expected only the first batch committed, got %d instances", len(store.instByRecord))
	}

	// The next run picks up the remaining backlog, nothing is double-linked.
	store.failApply = nil
	result, err := engine.Run(context.Background(), Options{ProjectID: 1, BatchSize: 1})
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if result.Linked != 1 {
		t.Errorf("resumed run linked %d; want 1", result.Linked)
	}
	if len(store.instByRecord) != 2 {
		t.Errorf("expected 2 linked instances, got %d", len(store.instByRecord))
	}
	if len(store.assetsByHash) != 2 {
		t.Errorf("expected 2 assets, got %d", len(store.assetsByHash))
	}
}

func TestRunResultString(t *testing.T) {
	r := &RunResult{Scanned: 10, Linked: 8, Errors: 2, Elapsed: 1500 * time.Millisecond}
	want := "linked 8, errors: 2 of 10 files (1.5s)"
	if got := r.String(); got != want {
		t.Errorf("String() = %q; want %q", got, want)
	}
}
