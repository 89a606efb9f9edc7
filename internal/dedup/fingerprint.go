package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Mode selects how a content fingerprint is computed.
type Mode string

const (
	// ModePath uses the canonical absolute path.
	ModePath Mode = "path"
	// ModeContent hashes the file bytes.
	ModeContent Mode = "content"
)

// Fingerprint identifies the content at path. In ModePath the path is made
// absolute and cleaned, and symlinks are resolved when the file exists.
func Fingerprint(path string, mode Mode) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty content path")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if mode != ModeContent {
		return abs, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", abs, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
