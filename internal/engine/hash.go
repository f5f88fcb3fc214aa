package engine

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// HashFile computes the BLAKE3 hash of the file at path, returning the hex-encoded digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	digest := h.Sum(nil)
	return hex.EncodeToString(digest), nil
}

// sameContent reports whether a and b hold identical bytes. Sizes are
// compared before anything is read.
func sameContent(a, b string, size int64) (bool, error) {
	info, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if info.Size() != size {
		return false, nil
	}
	ha, err := HashFile(a)
	if err != nil {
		return false, err
	}
	hb, err := HashFile(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
