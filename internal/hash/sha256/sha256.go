// Package sha256 digests downloaded images for Post.ImageHash.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrEmptyImage is returned for a zero-length download.
var ErrEmptyImage = errors.New("empty image")

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of the raw image bytes.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
