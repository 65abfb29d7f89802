package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// CreateSource inserts a new Source.
func (s *Store) CreateSource(ctx context.Context, src domain.Source) (domain.Source, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	cfg, err := json.Marshal(src.Config)
	if err != nil {
		return domain.Source{}, errors.Wrap(errors.KindValidation, err, "marshal source config")
	}

	const q = `INSERT INTO sources (id, user_id, name, type, config, status)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           RETURNING ` + sourceColumns
	row := s.pool.QueryRow(ctx, q, src.ID, src.UserID, src.Name, src.Type, cfg, domain.SourceStatusIdle)
	return scanSource(row)
}

// GetSource fetches a Source by ID, enforcing ownership unless asAdmin.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID, opts ListOptions) (domain.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`
	args := []interface{}{id}
	if !opts.AsAdmin {
		q += ` AND user_id = $2`
		args = append(args, opts.AsUserID)
	}
	row := s.pool.QueryRow(ctx, q, args...)
	src, err := scanSource(row)
	if err != nil {
		return domain.Source{}, translateNotFound(err, "source")
	}
	return src, nil
}

// ListSources returns every Source visible to the caller, ordered by
// creation time.
func (s *Store) ListSources(ctx context.Context, opts ListOptions) ([]domain.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources`
	var args []interface{}
	if !opts.AsAdmin {
		q += ` WHERE user_id = $1`
		args = append(args, opts.AsUserID)
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "list sources")
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "scan source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdateSource updates the user-editable fields of a Source: name and
// config. Scheduler-owned fields (status, last_error, last_sync_at,
// counters) are untouched — those only ever change through
// UpdateSourceStatus/RecordSyncCompletion.
func (s *Store) UpdateSource(ctx context.Context, id uuid.UUID, name string, cfg domain.SourceConfig, opts ListOptions) (domain.Source, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return domain.Source{}, errors.Wrap(errors.KindValidation, err, "marshal source config")
	}

	q := `UPDATE sources SET name = $2, config = $3, updated_at = now() WHERE id = $1`
	args := []interface{}{id, name, cfgJSON}
	if !opts.AsAdmin {
		q += ` AND user_id = $4`
		args = append(args, opts.AsUserID)
	}
	q += ` RETURNING ` + sourceColumns

	row := s.pool.QueryRow(ctx, q, args...)
	src, err := scanSource(row)
	if err != nil {
		return domain.Source{}, translateNotFound(err, "source")
	}
	return src, nil
}

// UpdateSourceStatus updates a Source's scheduler-owned status fields.
// It is the only mutation path for Status/LastError/LastSyncAt: these
// fields belong to the Scheduler, not to user-facing edits.
func (s *Store) UpdateSourceStatus(ctx context.Context, id uuid.UUID, status domain.SourceStatus, lastError string) error {
	const q = `UPDATE sources SET status = $2, last_error = $3, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, status, lastError)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "update source status")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.KindNotFound, "source not found")
	}
	return nil
}

// RecordSyncCompletion updates a Source's sync counters after a Smart
// Sync cycle completes (§4.F).
func (s *Store) RecordSyncCompletion(ctx context.Context, id uuid.UUID, filesSynced, filesPending, bytesTotal int64) error {
	const q = `UPDATE sources SET last_sync_at = now(), files_synced = $2,
	           files_pending = $3, bytes_total = $4, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, filesSynced, filesPending, bytesTotal)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "record sync completion")
	}
	return nil
}

// DeleteSource removes a Source. Documents it produced are not deleted.
func (s *Store) DeleteSource(ctx context.Context, id uuid.UUID, opts ListOptions) error {
	q := `DELETE FROM sources WHERE id = $1`
	args := []interface{}{id}
	if !opts.AsAdmin {
		q += ` AND user_id = $2`
		args = append(args, opts.AsUserID)
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "delete source")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.KindNotFound, "source not found")
	}
	return nil
}

const sourceColumns = `id, user_id, name, type, config, status, last_error, last_sync_at,
	files_synced, files_pending, bytes_total, created_at, updated_at`

func scanSource(row pgx.Row) (domain.Source, error) {
	var src domain.Source
	var cfg []byte
	if err := row.Scan(&src.ID, &src.UserID, &src.Name, &src.Type, &cfg, &src.Status,
		&src.LastError, &src.LastSyncAt, &src.FilesSynced, &src.FilesPending, &src.BytesTotal,
		&src.CreatedAt, &src.UpdatedAt); err != nil {
		return domain.Source{}, err
	}
	if err := json.Unmarshal(cfg, &src.Config); err != nil {
		return domain.Source{}, errors.Wrap(errors.KindInternal, err, "unmarshal source config")
	}
	return src, nil
}
