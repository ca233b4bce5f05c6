package backfill

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/fingerprint"
)

func TestHashFile(t *testing.T) {
	root := t.TempDir()
	content := []byte("not really a photo")
	if err := os.WriteFile(filepath.Join(root, "img.jpg"), content, 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	hasher := NewHasher(root, fingerprint.Disabled{})
	contentHash, perceptualHash, err := hasher.HashFile(database.FileOccurrence{Path: "img.jpg"})
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}

	sum := sha256.Sum256(content)
	if contentHash != hex.EncodeToString(sum[:]) {
		t.Errorf("content hash = %s; want sha256 of file bytes", contentHash)
	}
	if perceptualHash != "" {
		t.Errorf("perceptual hash should be empty with signing disabled, got %q", perceptualHash)
	}
}

func TestHashFileUndecodableImage(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "img.jpg"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// A file that hashes but does not decode is still linkable, only the
	// perceptual hash stays empty.
	hasher := NewHasher(root, fingerprint.NewExtractor())
	contentHash, perceptualHash, err := hasher.HashFile(database.FileOccurrence{Path: "img.jpg"})
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if contentHash == "" {
		t.Error("content hash should be computed")
	}
	if perceptualHash != "" {
		t.Errorf("perceptual hash should be empty for undecodable data, got %q", perceptualHash)
	}
}

func TestHashFileMissing(t *testing.T) {
	hasher := NewHasher(t.TempDir(), fingerprint.Disabled{})
	if _, _, err := hasher.HashFile(database.FileOccurrence{Path: "gone.jpg"}); err == nil {
		t.Error("HashFile should fail for a missing file")
	}
}
