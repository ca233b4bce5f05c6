package backfill

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/fingerprint"
)

// Hasher turns a file occurrence into its content identity: a SHA-256
// content hash plus, when the signer is available, a perceptual signature.
type Hasher struct {
	mediaRoot string
	signer    fingerprint.Signer
}

// NewHasher creates a hasher reading files below mediaRoot.
func NewHasher(mediaRoot string, signer fingerprint.Signer) *Hasher {
	return &Hasher{mediaRoot: mediaRoot, signer: signer}
}

// HashFile reads the file bytes and computes the content hash. The
// perceptual hash is empty when signing is disabled or the image cannot be
// decoded; a file that hashes but does not decode is still linkable.
func (h *Hasher) HashFile(occ database.FileOccurrence) (contentHash, perceptualHash string, err error) {
	path := filepath.Join(h.mediaRoot, occ.Path)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", occ.Path, err)
	}

	sum := sha256.Sum256(data)
	contentHash = hex.EncodeToString(sum[:])

	if h.signer != nil && h.signer.Available() {
		if sig, sigErr := h.signer.Sign(data); sigErr == nil {
			perceptualHash = sig.Hex()
		}
	}

	return contentHash, perceptualHash, nil
}
