// Package blobstore implements the engine's content-addressed local file
// store (§4.B): documents are written once under a path derived from their
// SHA-256 hash and never modified in place.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/archivist/engine/pkg/errors"
	"github.com/archivist/engine/pkg/utils"
)

// Store is a content-addressed blob store rooted at a single directory.
// Blobs live under <root>/blobs/<first two hex chars>/<full hex hash>;
// in-progress writes land under <root>/tmp/<uuid> and are renamed into
// place atomically so a reader never observes a partial write.
type Store struct {
	root string
}

// New creates a Store rooted at root, creating the blobs/ and tmp/
// subdirectories if they don't already exist.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New(errors.KindValidation, "blob store root must not be empty")
	}
	for _, sub := range []string{"blobs", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o750); err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "create blob store directory").WithDetail("dir", sub)
		}
	}
	return &Store{root: root}, nil
}

// blobPath returns the path, relative to root, for the given content hash.
func blobPath(hash [32]byte) string {
	hexHash := hex.EncodeToString(hash[:])
	return filepath.Join("blobs", hexHash[:2], hexHash)
}

// Hash returns the SHA-256 content hash of data, used as both the blob's
// identity and the basis for ingestion-time deduplication (§4.C).
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Put writes data to the blob store and returns its path relative to root.
// If a blob with the same content hash already exists, Put returns its
// existing path without writing again.
func (s *Store) Put(ctx context.Context, data []byte) (relPath string, hash [32]byte, err error) {
	select {
	case <-ctx.Done():
		return "", hash, errors.Wrap(errors.KindCancelled, ctx.Err(), "put cancelled")
	default:
	}

	hash = Hash(data)
	relPath = blobPath(hash)
	fullPath := filepath.Join(s.root, relPath)

	if _, statErr := os.Stat(fullPath); statErr == nil {
		return relPath, hash, nil // already stored; content-addressed, so identical
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", hash, errors.Wrap(errors.KindInternal, err, "create blob shard directory")
	}

	tmpPath := filepath.Join(s.root, "tmp", uuid.New().String())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", hash, errors.Wrap(errors.KindInternal, err, "create temp file")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", hash, errors.Wrap(errors.KindInternal, err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", hash, errors.Wrap(errors.KindInternal, err, "fsync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", hash, errors.Wrap(errors.KindInternal, err, "close temp file")
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", hash, errors.Wrap(errors.KindInternal, err, "rename temp file into place")
	}

	return relPath, hash, nil
}

// Get reads the full contents of the blob at relPath.
func (s *Store) Get(relPath string) ([]byte, error) {
	fullPath, err := utils.SecureJoin(s.root, relPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "resolve blob path")
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindNotFound, err, "blob missing").WithDetail("path", relPath)
		}
		return nil, errors.Wrap(errors.KindInternal, err, "read blob")
	}
	return data, nil
}

// Reader opens the blob at relPath for streaming reads; callers must
// Close it.
func (s *Store) Reader(relPath string) (io.ReadCloser, error) {
	fullPath, err := utils.SecureJoin(s.root, relPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "resolve blob path")
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindNotFound, err, "blob missing").WithDetail("path", relPath)
		}
		return nil, errors.Wrap(errors.KindInternal, err, "open blob")
	}
	return f, nil
}

// Delete removes the blob at relPath. Deleting an already-missing blob is
// not an error: the caller's record of it is what's being cleaned up.
func (s *Store) Delete(relPath string) error {
	fullPath, err := utils.SecureJoin(s.root, relPath)
	if err != nil {
		return errors.Wrap(errors.KindValidation, err, "resolve blob path")
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.KindInternal, err, "delete blob")
	}
	return nil
}

// Exists reports whether a blob with the given content hash is present.
func (s *Store) Exists(hash [32]byte) bool {
	_, err := os.Stat(filepath.Join(s.root, blobPath(hash)))
	return err == nil
}

// ReapTempFiles removes every file under tmp/, called once at startup to
// clean up writes interrupted by a crash before they were renamed into
// place.
func (s *Store) ReapTempFiles() error {
	tmpDir := filepath.Join(s.root, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.KindInternal, err, "list temp directory")
	}

	var firstErr error
	for _, e := range entries {
		if err := os.Remove(filepath.Join(tmpDir, e.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.Wrap(errors.KindInternal, firstErr, "reap temp files")
	}
	return nil
}
