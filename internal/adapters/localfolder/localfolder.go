// Package localfolder implements the Remote Adapter contract against a
// directory on the local filesystem, deriving an ETag-equivalent
// fingerprint from (mtime, size) since local files carry no server-issued
// entity tag (§4.E).
package localfolder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/archivist/engine/internal/adapters"
	"github.com/archivist/engine/pkg/errors"
	"github.com/archivist/engine/pkg/utils"
)

// Config configures a local-folder source (§3: Source.Config.LocalFolder).
type Config struct {
	RootPath string

	// StabilityCheckInterval is how long a file's (mtime, size) must stay
	// unchanged before it is considered done being written (§4.F).
	StabilityCheckInterval time.Duration
}

// Adapter implements adapters.Adapter against a local directory tree.
type Adapter struct {
	cfg Config
}

var _ adapters.Adapter = (*Adapter)(nil)

// New builds a local-folder adapter rooted at cfg.RootPath.
func New(cfg Config) (*Adapter, error) {
	if cfg.RootPath == "" {
		return nil, errors.New(errors.KindValidation, "local folder root_path must not be empty")
	}
	if cfg.StabilityCheckInterval <= 0 {
		cfg.StabilityCheckInterval = 2 * time.Second
	}
	return &Adapter{cfg: cfg}, nil
}

// fingerprint derives a fingerprint from (mtime, size) that changes iff
// either changes, used as this adapter's ETag-equivalent.
func fingerprint(info os.FileInfo) string {
	return fmt.Sprintf("mtime:%d:size:%d", info.ModTime().UnixNano(), info.Size())
}

func (a *Adapter) resolve(relPath string) (string, error) {
	return utils.SecureJoin(a.cfg.RootPath, relPath)
}

// List returns the immediate children of dirPath. Files that fail a
// stability check (mtime changed within StabilityCheckInterval of now) are
// still listed; the caller's sync engine decides whether to defer them.
func (a *Adapter) List(ctx context.Context, dirPath string) ([]adapters.Entry, error) {
	full, err := a.resolve(dirPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "resolve directory path")
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindNotFound, err, "local directory not found")
		}
		if os.IsPermission(err) {
			return nil, errors.Wrap(errors.KindAccessDenied, err, "local directory not readable")
		}
		return nil, errors.Wrap(errors.KindInternal, err, "read local directory")
	}

	entries := make([]adapters.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.KindCancelled, ctx.Err(), "list cancelled")
		default:
		}

		info, err := de.Info()
		if err != nil {
			continue // vanished between readdir and stat; skip
		}

		relPath := filepath.Join(dirPath, de.Name())
		entry := adapters.Entry{
			Name:    de.Name(),
			Path:    relPath,
			ModTime: info.ModTime(),
			ETag:    fingerprint(info),
		}
		if de.IsDir() {
			entry.Kind = adapters.KindDir
		} else {
			entry.Kind = adapters.KindFile
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// IsStable reports whether a file has not been modified within the
// configured stability window, used to debounce in-progress writes before
// ingestion (§4.F).
func (a *Adapter) IsStable(relPath string) (bool, error) {
	full, err := a.resolve(relPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) >= a.cfg.StabilityCheckInterval, nil
}

// Download reads the full contents of the file at path.
func (a *Adapter) Download(ctx context.Context, path string) ([]byte, error) {
	full, err := a.resolve(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "resolve file path")
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindNotFound, err, "local file not found")
		}
		if os.IsPermission(err) {
			return nil, errors.Wrap(errors.KindAccessDenied, err, "local file not readable")
		}
		return nil, errors.Wrap(errors.KindInternal, err, "read local file")
	}
	return data, nil
}

// TestConnection verifies the root path exists and is a readable directory.
func (a *Adapter) TestConnection(ctx context.Context) adapters.ConnectionCheck {
	info, err := os.Stat(a.cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return adapters.ConnectionCheck{OK: false, Category: "not_found", Message: "root path does not exist"}
		}
		if os.IsPermission(err) {
			return adapters.ConnectionCheck{OK: false, Category: "auth", Message: "root path not readable"}
		}
		return adapters.ConnectionCheck{OK: false, Category: "network", Message: err.Error()}
	}
	if !info.IsDir() {
		return adapters.ConnectionCheck{OK: false, Category: "not_found", Message: "root path is not a directory"}
	}
	return adapters.ConnectionCheck{OK: true, Category: "ok", Message: "root path reachable"}
}
