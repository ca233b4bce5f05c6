package fingerprint

import "fmt"

// Signature is a fixed-length perceptual signature of an image. Images with
// small Hamming distance between signatures are visually similar.
type Signature struct {
	PHash uint64 // DCT-based perceptual hash
	DHash uint64 // gradient-based difference hash
}

// Hex returns the pHash as a 16-character hex string, the storage form of
// the signature.
func (s Signature) Hex() string {
	return fmt.Sprintf("%016x", s.PHash)
}

// ParseHex parses a stored 16-character hex signature back into its bits.
func ParseHex(hex string) (uint64, error) {
	var bits uint64
	if _, err := fmt.Sscanf(hex, "%016x", &bits); err != nil {
		return 0, fmt.Errorf("parse signature %q: %w", hex, err)
	}
	return bits, nil
}

// Signer computes perceptual signatures for image bytes. The capability is
// resolved once at construction; callers check Available instead of probing
// per call.
type Signer interface {
	// Available reports whether signing is enabled.
	Available() bool
	// Sign computes the signature for the given image bytes.
	Sign(imageData []byte) (Signature, error)
}

// Disabled is a Signer that reports no capability. Used when perceptual
// hashing is switched off; the pipeline then relies on embeddings alone.
type Disabled struct{}

// Available always returns false.
func (Disabled) Available() bool { return false }

// Sign always fails; callers must check Available first.
func (Disabled) Sign([]byte) (Signature, error) {
	return Signature{}, fmt.Errorf("perceptual hashing disabled")
}
