package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// GetFingerprint fetches the last-recorded fingerprint of a directory, if
// any. Smart Sync (§4.F) uses this to decide whether a subtree can be
// skipped entirely.
func (s *Store) GetFingerprint(ctx context.Context, userID, sourceID uuid.UUID, dirPath string) (domain.DirectoryFingerprint, bool, error) {
	const q = `SELECT user_id, source_id, directory_path, etag, file_count, total_bytes, updated_at
	           FROM directory_fingerprints WHERE user_id = $1 AND source_id = $2 AND directory_path = $3`
	row := s.pool.QueryRow(ctx, q, userID, sourceID, dirPath)
	fp, err := scanFingerprint(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DirectoryFingerprint{}, false, nil
		}
		return domain.DirectoryFingerprint{}, false, errors.Wrap(errors.KindInternal, err, "get fingerprint")
	}
	return fp, true, nil
}

// UpsertFingerprint records the current ETag of a directory after a
// successful scan.
func (s *Store) UpsertFingerprint(ctx context.Context, fp domain.DirectoryFingerprint) error {
	const q = `INSERT INTO directory_fingerprints (user_id, source_id, directory_path, etag, file_count, total_bytes)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           ON CONFLICT (user_id, source_id, directory_path)
	           DO UPDATE SET etag = $4, file_count = $5, total_bytes = $6, updated_at = now()`
	_, err := s.pool.Exec(ctx, q, fp.UserID, fp.SourceID, fp.DirectoryPath, fp.ETag, fp.FileCount, fp.TotalBytes)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "upsert fingerprint")
	}
	return nil
}

// ListFingerprints returns every fingerprint recorded under a source,
// used by Smart Sync's strategy evaluation (§4.F) to count the known
// directories under a watch folder.
func (s *Store) ListFingerprints(ctx context.Context, userID, sourceID uuid.UUID) ([]domain.DirectoryFingerprint, error) {
	const q = `SELECT user_id, source_id, directory_path, etag, file_count, total_bytes, updated_at
	           FROM directory_fingerprints WHERE user_id = $1 AND source_id = $2`
	rows, err := s.pool.Query(ctx, q, userID, sourceID)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "list fingerprints")
	}
	defer rows.Close()

	var out []domain.DirectoryFingerprint
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "scan fingerprint")
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// DeleteFingerprintsUnder removes every fingerprint at or below dirPath.
// FullDeepScan does not call it: it drops vanished directories through
// ReplaceFingerprintsUnder.
func (s *Store) DeleteFingerprintsUnder(ctx context.Context, userID, sourceID uuid.UUID, dirPath string) error {
	const q = `DELETE FROM directory_fingerprints
	           WHERE user_id = $1 AND source_id = $2 AND (directory_path = $3 OR directory_path LIKE $4)`
	pattern := dirPath + "/%"
	if dirPath == "" {
		pattern = "%"
	}
	_, err := s.pool.Exec(ctx, q, userID, sourceID, dirPath, pattern)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "delete fingerprints under path")
	}
	return nil
}

// ReplaceSourceFingerprints atomically swaps every fingerprint for a
// source. Used for a full resync of an entire source (every watch
// folder at once); FullDeepScan of a single watch folder should use
// ReplaceFingerprintsUnder instead so sibling watch folders' fingerprints
// are left untouched.
func (s *Store) ReplaceSourceFingerprints(ctx context.Context, userID, sourceID uuid.UUID, fps []domain.DirectoryFingerprint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM directory_fingerprints WHERE user_id = $1 AND source_id = $2`, userID, sourceID); err != nil {
		return errors.Wrap(errors.KindInternal, err, "clear fingerprints")
	}

	const ins = `INSERT INTO directory_fingerprints (user_id, source_id, directory_path, etag, file_count, total_bytes)
	             VALUES ($1, $2, $3, $4, $5, $6)`
	for _, fp := range fps {
		if _, err := tx.Exec(ctx, ins, userID, sourceID, fp.DirectoryPath, fp.ETag, fp.FileCount, fp.TotalBytes); err != nil {
			return errors.Wrap(errors.KindInternal, err, "insert fingerprint")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.KindInternal, err, "commit fingerprint replacement")
	}
	return nil
}

// ReplaceFingerprintsUnder atomically swaps every fingerprint at or below
// rootPath, the operation FullDeepScan (§4.F) uses once a single watch
// folder's scan completes: deletions for directories no longer present,
// insertions for new ones, updates for changed ETags, all in one
// transaction so readers never observe a half-written subtree — and
// fingerprints for sibling watch folders are never touched.
func (s *Store) ReplaceFingerprintsUnder(ctx context.Context, userID, sourceID uuid.UUID, rootPath string, fps []domain.DirectoryFingerprint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	const del = `DELETE FROM directory_fingerprints
	             WHERE user_id = $1 AND source_id = $2 AND (directory_path = $3 OR directory_path LIKE $4)`
	pattern := rootPath + "/%"
	if rootPath == "" {
		pattern = "%"
	}
	if _, err := tx.Exec(ctx, del, userID, sourceID, rootPath, pattern); err != nil {
		return errors.Wrap(errors.KindInternal, err, "clear fingerprints under path")
	}

	const ins = `INSERT INTO directory_fingerprints (user_id, source_id, directory_path, etag, file_count, total_bytes)
	             VALUES ($1, $2, $3, $4, $5, $6)`
	for _, fp := range fps {
		if _, err := tx.Exec(ctx, ins, userID, sourceID, fp.DirectoryPath, fp.ETag, fp.FileCount, fp.TotalBytes); err != nil {
			return errors.Wrap(errors.KindInternal, err, "insert fingerprint")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.KindInternal, err, "commit fingerprint replacement")
	}
	return nil
}

func scanFingerprint(row pgx.Row) (domain.DirectoryFingerprint, error) {
	var fp domain.DirectoryFingerprint
	if err := row.Scan(&fp.UserID, &fp.SourceID, &fp.DirectoryPath, &fp.ETag, &fp.FileCount, &fp.TotalBytes, &fp.UpdatedAt); err != nil {
		return domain.DirectoryFingerprint{}, err
	}
	return fp, nil
}
