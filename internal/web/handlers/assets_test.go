package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

func TestAssetsHandler_ListDuplicates(t *testing.T) {
	rep := int64(42)
	handler := NewAssetsHandler(&fakeAssetStore{
		duplicates: []database.AssetSummary{
			{AssetID: 1, ContentHash: "aaa", InstanceCount: 3, RepresentativeID: &rep},
			{AssetID: 2, ContentHash: "bbb", InstanceCount: 2},
		},
	})

	req := httptest.NewRequest("GET", "/api/v1/assets/duplicates", nil)
	recorder := httptest.NewRecorder()

	handler.ListDuplicates(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var result struct {
		Assets []struct {
			AssetID       int64  `json:"asset_id"`
			ContentHash   string `json:"content_hash"`
			InstanceCount int    `json:"instance_count"`
		} `json:"assets"`
		Count int `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)

	if result.Count != 2 {
		t.Errorf("expected count 2, got %d", result.Count)
	}
	if result.Assets[0].ContentHash != "aaa" {
		t.Errorf("expected first hash 'aaa', got '%s'", result.Assets[0].ContentHash)
	}
}

func TestAssetsHandler_ListDuplicates_MinInstances(t *testing.T) {
	handler := NewAssetsHandler(&fakeAssetStore{
		duplicates: []database.AssetSummary{
			{AssetID: 1, InstanceCount: 5},
			{AssetID: 2, InstanceCount: 2},
		},
	})

	req := httptest.NewRequest("GET", "/api/v1/assets/duplicates?min_instances=3", nil)
	recorder := httptest.NewRecorder()

	handler.ListDuplicates(recorder, req)

	var result struct {
		Count int `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)

	if result.Count != 1 {
		t.Errorf("expected count 1 with min_instances=3, got %d", result.Count)
	}
}

func TestAssetsHandler_SetRepresentative(t *testing.T) {
	store := &fakeAssetStore{}
	handler := NewAssetsHandler(store)

	body := bytes.NewBufferString(`{"instance_id": 7}`)
	req := httptest.NewRequest("PUT", "/api/v1/assets/5/representative", body)
	req = requestWithChiParams(req, map[string]string{"id": "5"})
	recorder := httptest.NewRecorder()

	handler.SetRepresentative(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	if store.repAssetID != 5 || store.repInstanceID != 7 {
		t.Errorf("store called with (%d, %d); want (5, 7)", store.repAssetID, store.repInstanceID)
	}
}

func TestAssetsHandler_SetRepresentative_InvalidAssetID(t *testing.T) {
	handler := NewAssetsHandler(&fakeAssetStore{})

	req := httptest.NewRequest("PUT", "/api/v1/assets/abc/representative", bytes.NewBufferString(`{"instance_id": 7}`))
	req = requestWithChiParams(req, map[string]string{"id": "abc"})
	recorder := httptest.NewRecorder()

	handler.SetRepresentative(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestAssetsHandler_SetRepresentative_MissingInstanceID(t *testing.T) {
	handler := NewAssetsHandler(&fakeAssetStore{})

	req := httptest.NewRequest("PUT", "/api/v1/assets/5/representative", bytes.NewBufferString(`{}`))
	req = requestWithChiParams(req, map[string]string{"id": "5"})
	recorder := httptest.NewRecorder()

	handler.SetRepresentative(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "instance_id is required")
}

func TestAssetsHandler_SetRepresentative_WrongAsset(t *testing.T) {
	handler := NewAssetsHandler(&fakeAssetStore{repErr: database.ErrNotFound})

	req := httptest.NewRequest("PUT", "/api/v1/assets/5/representative", bytes.NewBufferString(`{"instance_id": 7}`))
	req = requestWithChiParams(req, map[string]string{"id": "5"})
	recorder := httptest.NewRecorder()

	handler.SetRepresentative(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestAssetsHandler_Instances(t *testing.T) {
	d := database.InstanceDetail{Path: "a.jpg"}
	d.ID = 1
	handler := NewAssetsHandler(&fakeAssetStore{
		details: map[int64][]database.InstanceDetail{5: {d}},
	})

	req := httptest.NewRequest("GET", "/api/v1/assets/5/instances", nil)
	req = requestWithChiParams(req, map[string]string{"id": "5"})
	recorder := httptest.NewRecorder()

	handler.Instances(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		AssetID int64 `json:"asset_id"`
		Count   int   `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.AssetID != 5 || result.Count != 1 {
		t.Errorf("unexpected response: %+v", result)
	}
}
