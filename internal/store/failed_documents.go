package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// RecordFailedDocument appends an immutable record of an ingestion or
// OCR run that never produced a usable Document (§3). Unlike every other
// table here, rows are never updated after insertion.
func (s *Store) RecordFailedDocument(ctx context.Context, fd domain.FailedDocument) (domain.FailedDocument, error) {
	if fd.ID == uuid.Nil {
		fd.ID = uuid.New()
	}
	const q = `INSERT INTO failed_documents (id, user_id, filename, stage, reason, error_message, ingestion_source)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)
	           RETURNING id, user_id, filename, stage, reason, error_message, ingestion_source, created_at`
	row := s.pool.QueryRow(ctx, q, fd.ID, fd.UserID, fd.Filename, fd.Stage, fd.Reason, fd.ErrorMessage, fd.IngestionSource)
	return scanFailedDocument(row)
}

// ListFailedDocuments returns failed-document records visible to the
// caller, newest first.
func (s *Store) ListFailedDocuments(ctx context.Context, opts ListOptions) ([]domain.FailedDocument, error) {
	q := `SELECT id, user_id, filename, stage, reason, error_message, ingestion_source, created_at FROM failed_documents`
	var args []interface{}
	if !opts.AsAdmin {
		q += ` WHERE user_id = $1`
		args = append(args, opts.AsUserID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "list failed documents")
	}
	defer rows.Close()

	var out []domain.FailedDocument
	for rows.Next() {
		fd, err := scanFailedDocument(rows)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "scan failed document")
		}
		out = append(out, fd)
	}
	return out, rows.Err()
}

func scanFailedDocument(row pgx.Row) (domain.FailedDocument, error) {
	var fd domain.FailedDocument
	if err := row.Scan(&fd.ID, &fd.UserID, &fd.Filename, &fd.Stage, &fd.Reason, &fd.ErrorMessage,
		&fd.IngestionSource, &fd.CreatedAt); err != nil {
		return domain.FailedDocument{}, err
	}
	return fd, nil
}
