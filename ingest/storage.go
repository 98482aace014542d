package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// =============================================================================
// FILE STORAGE - uploaded artifacts on disk
// =============================================================================

// FileStore persists uploaded bytes under a media root. Storage paths are
// relative to the root so raw-file rows stay valid if the root moves.
type FileStore struct {
	Root string
}

// Save writes the upload under uploads/ with a random prefix to avoid name
// collisions, returning the relative storage path.
func (fs *FileStore) Save(fileName string, data []byte) (string, error) {
	rel := filepath.Join("uploads", fmt.Sprintf("%s_%s", uuid.NewString()[:8], filepath.Base(fileName)))
	abs := filepath.Join(fs.Root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", err
	}
	return rel, nil
}

// Read loads a previously saved upload by its relative storage path.
func (fs *FileStore) Read(storagePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(fs.Root, storagePath))
}

// Checksum is the content identity used for duplicate detection: identical
// bytes collide regardless of filename.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
