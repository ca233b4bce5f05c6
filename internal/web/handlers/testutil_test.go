package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/database"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Rules: config.RulesConfig{
			Rules: config.StackRules{
				RuleVersion:          "v1",
				SimilarityThreshold:  0.90,
				HammingThreshold:     10,
				CaptureWindowSeconds: 5,
			},
		},
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses the recorder body into target
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// fakeAssetStore provides canned responses for asset handler tests.
type fakeAssetStore struct {
	database.AssetStore

	duplicates []database.AssetSummary
	details    map[int64][]database.InstanceDetail
	progress   database.BackfillProgress

	repAssetID    int64
	repInstanceID int64
	repErr        error
}

func (f *fakeAssetStore) ListDuplicateAssets(_ context.Context, _ int64, minInstances int) ([]database.AssetSummary, error) {
	out := make([]database.AssetSummary, 0, len(f.duplicates))
	for _, a := range f.duplicates {
		if a.InstanceCount >= minInstances {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAssetStore) InstanceDetailsForAsset(_ context.Context, _ int64, assetID int64) ([]database.InstanceDetail, error) {
	return f.details[assetID], nil
}

func (f *fakeAssetStore) SetRepresentative(_ context.Context, _ int64, assetID, instanceID int64) error {
	if f.repErr != nil {
		return f.repErr
	}
	f.repAssetID = assetID
	f.repInstanceID = instanceID
	return nil
}

func (f *fakeAssetStore) Progress(_ context.Context, _ int64) (database.BackfillProgress, error) {
	return f.progress, nil
}

func (f *fakeAssetStore) InstancesWithoutAsset(_ context.Context, _, _ int64, _ int) ([]database.FileOccurrence, error) {
	return nil, nil
}

// fakeStackStore provides canned responses for stack handler tests.
type fakeStackStore struct {
	database.StackStore

	stacks  []database.StackSummary
	members map[int64][]database.StackMember
}

func (f *fakeStackStore) ListStacks(_ context.Context, _ int64, stackType database.StackType, limit, offset int) ([]database.StackSummary, error) {
	var out []database.StackSummary
	for _, s := range f.stacks {
		if stackType == "" || s.Type == stackType {
			out = append(out, s)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStackStore) ListMembers(_ context.Context, _ int64, stackID int64) ([]database.StackMember, error) {
	return f.members[stackID], nil
}
