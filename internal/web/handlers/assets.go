package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// AssetsHandler handles asset-related endpoints
type AssetsHandler struct {
	assets database.AssetStore
}

// NewAssetsHandler creates a new assets handler
func NewAssetsHandler(assets database.AssetStore) *AssetsHandler {
	return &AssetsHandler{assets: assets}
}

// ListDuplicates returns assets with more than one linked instance.
func (h *AssetsHandler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	minInstances := queryInt(r, "min_instances", 2)
	if minInstances < 2 {
		minInstances = 2
	}

	assets, err := h.assets.ListDuplicateAssets(r.Context(), projectID(r), minInstances)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list duplicates: %v", err))
		return
	}

	type duplicateAsset struct {
		AssetID          int64  `json:"asset_id"`
		ContentHash      string `json:"content_hash"`
		InstanceCount    int    `json:"instance_count"`
		RepresentativeID *int64 `json:"representative_id,omitempty"`
	}

	out := make([]duplicateAsset, len(assets))
	for i, a := range assets {
		out[i] = duplicateAsset{
			AssetID:          a.AssetID,
			ContentHash:      a.ContentHash,
			InstanceCount:    a.InstanceCount,
			RepresentativeID: a.RepresentativeID,
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"assets": out,
		"count":  len(out),
	})
}

// Instances returns the instances of one asset with file metadata.
func (h *AssetsHandler) Instances(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset ID")
		return
	}

	details, err := h.assets.InstanceDetailsForAsset(r.Context(), projectID(r), assetID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list instances: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"asset_id":  assetID,
		"instances": details,
		"count":     len(details),
	})
}

// SetRepresentativeRequest is the body of a representative override.
type SetRepresentativeRequest struct {
	InstanceID int64 `json:"instance_id"`
}

// SetRepresentative overrides the display instance of an asset.
func (h *AssetsHandler) SetRepresentative(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset ID")
		return
	}

	var req SetRepresentativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.InstanceID <= 0 {
		respondError(w, http.StatusBadRequest, "instance_id is required")
		return
	}

	err = h.assets.SetRepresentative(r.Context(), projectID(r), assetID, req.InstanceID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "instance does not belong to asset")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to set representative: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"asset_id":    assetID,
		"instance_id": req.InstanceID,
	})
}
