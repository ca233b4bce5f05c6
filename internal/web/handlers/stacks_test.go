package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

func TestStacksHandler_List(t *testing.T) {
	stacks := &fakeStackStore{
		stacks: []database.StackSummary{
			{ID: 1, Type: database.StackTypeDuplicate, MemberCount: 3},
			{ID: 2, Type: database.StackTypeSimilar, MemberCount: 2},
		},
	}
	handler := NewStacksHandler(testConfig(), &fakeAssetStore{}, stacks, nil, NewJobManager())

	req := httptest.NewRequest("GET", "/api/v1/stacks", nil)
	recorder := httptest.NewRecorder()

	handler.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Count int `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != 2 {
		t.Errorf("expected 2 stacks, got %d", result.Count)
	}
}

func TestStacksHandler_List_FilterByType(t *testing.T) {
	stacks := &fakeStackStore{
		stacks: []database.StackSummary{
			{ID: 1, Type: database.StackTypeDuplicate},
			{ID: 2, Type: database.StackTypeSimilar},
		},
	}
	handler := NewStacksHandler(testConfig(), &fakeAssetStore{}, stacks, nil, NewJobManager())

	req := httptest.NewRequest("GET", "/api/v1/stacks?type=similar", nil)
	recorder := httptest.NewRecorder()

	handler.List(recorder, req)

	var result struct {
		Count int `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != 1 {
		t.Errorf("expected 1 similar stack, got %d", result.Count)
	}
}

func TestStacksHandler_List_UnknownType(t *testing.T) {
	handler := NewStacksHandler(testConfig(), &fakeAssetStore{}, &fakeStackStore{}, nil, NewJobManager())

	req := httptest.NewRequest("GET", "/api/v1/stacks?type=bogus", nil)
	recorder := httptest.NewRecorder()

	handler.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestStacksHandler_Members(t *testing.T) {
	score := 0.93
	stacks := &fakeStackStore{
		members: map[int64][]database.StackMember{
			9: {
				{StackID: 9, InstanceID: 1, Rank: 0},
				{StackID: 9, InstanceID: 2, Rank: 1, Score: &score},
			},
		},
	}
	handler := NewStacksHandler(testConfig(), &fakeAssetStore{}, stacks, nil, NewJobManager())

	req := httptest.NewRequest("GET", "/api/v1/stacks/9/members", nil)
	req = requestWithChiParams(req, map[string]string{"id": "9"})
	recorder := httptest.NewRecorder()

	handler.Members(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		StackID int64 `json:"stack_id"`
		Count   int   `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.StackID != 9 || result.Count != 2 {
		t.Errorf("unexpected response: %+v", result)
	}
}

func TestStacksHandler_Generate_UnknownType(t *testing.T) {
	handler := NewStacksHandler(testConfig(), &fakeAssetStore{}, &fakeStackStore{}, nil, NewJobManager())

	body := bytes.NewBufferString(`{"stack_type": "bogus"}`)
	req := httptest.NewRequest("POST", "/api/v1/stacks/generate", body)
	recorder := httptest.NewRecorder()

	handler.Generate(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestStacksHandler_Generate_StartsJob(t *testing.T) {
	jm := NewJobManager()
	// The duplicate path only reads from the asset store, so empty fakes
	// produce a clean completed job with zero stacks.
	handler := NewStacksHandler(testConfig(), &fakeAssetStore{}, newClearableStackStore(), nil, jm)

	body := bytes.NewBufferString(`{"stack_type": "duplicate"}`)
	req := httptest.NewRequest("POST", "/api/v1/stacks/generate", body)
	recorder := httptest.NewRecorder()

	handler.Generate(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)

	var result struct {
		JobID string `json:"job_id"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.JobID == "" {
		t.Fatal("expected a job id")
	}

	job := jm.GetJob(result.JobID)
	if job == nil {
		t.Fatal("job should be registered")
	}

	waitForTerminal(t, job)
	if got := job.GetStatus(); got != JobStatusCompleted {
		t.Errorf("job status = %s; want %s (error: %s)", got, JobStatusCompleted, job.Error)
	}
}

func TestStacksHandler_Status_NotFound(t *testing.T) {
	handler := NewStacksHandler(testConfig(), &fakeAssetStore{}, &fakeStackStore{}, nil, NewJobManager())

	req := httptest.NewRequest("GET", "/api/v1/stacks/generate/nope", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "nope"})
	recorder := httptest.NewRecorder()

	handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

// clearableStackStore extends the fake with the mutation methods the
// generator calls during a run.
type clearableStackStore struct {
	fakeStackStore
}

func newClearableStackStore() *clearableStackStore {
	return &clearableStackStore{}
}

func (f *clearableStackStore) ClearStacksByType(_ context.Context, _ int64, _ database.StackType, _ string) (int64, error) {
	return 0, nil
}

func waitForTerminal(t *testing.T, job *Job) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if isJobTerminal(job.GetStatus()) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("job did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
