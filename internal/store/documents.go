package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// uniqueViolation is the Postgres SQLSTATE for a unique_violation.
const uniqueViolation = "23505"

// CreateDocument inserts a new Document. If a document with the same
// (user_id, content_hash) already exists, it returns a KindDuplicate
// error wrapping the database's unique-violation error; the conflicting
// row's ID is not included, and GetDocumentByUserAndHash fetches that row.
func (s *Store) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	const q = `INSERT INTO documents (id, user_id, filename, original_filename, blob_path,
	           size, mime_type, content_hash, tags, ocr_status)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	           RETURNING ` + documentColumns

	row := s.pool.QueryRow(ctx, q, d.ID, d.UserID, d.Filename, d.OriginalFilename, d.BlobPath,
		d.Size, d.MimeType, d.ContentHash[:], d.Tags, domain.OCRStatusPending)
	doc, err := scanDocument(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Document{}, errors.Wrap(errors.KindDuplicate, err, "document with this content already exists")
		}
		return domain.Document{}, errors.Wrap(errors.KindInternal, err, "create document")
	}
	return doc, nil
}

// GetDocumentByUserAndHash looks up a document by its owner and content
// hash, the lookup the ingestion pipeline (§4.C) uses to detect
// duplicates before ever touching the blob store.
func (s *Store) GetDocumentByUserAndHash(ctx context.Context, userID uuid.UUID, hash [32]byte) (domain.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND content_hash = $2`
	row := s.pool.QueryRow(ctx, q, userID, hash[:])
	doc, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, translateNotFound(err, "document")
	}
	return doc, nil
}

// GetDocument fetches a Document by ID, enforcing ownership unless asAdmin.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID, opts ListOptions) (domain.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	args := []interface{}{id}
	if !opts.AsAdmin {
		q += ` AND user_id = $2`
		args = append(args, opts.AsUserID)
	}
	row := s.pool.QueryRow(ctx, q, args...)
	doc, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, translateNotFound(err, "document")
	}
	return doc, nil
}

// defaultDocumentPageSize is used when DocumentListOptions.Limit <= 0.
const defaultDocumentPageSize = 50

// ListDocuments returns the Documents visible to the caller, newest
// first, honoring pagination and an optional OCR status filter (§6).
func (s *Store) ListDocuments(ctx context.Context, opts DocumentListOptions) ([]domain.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents`
	var (
		args  []interface{}
		where []string
	)
	if !opts.AsAdmin {
		args = append(args, opts.AsUserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if opts.OCRStatusFilter != nil {
		args = append(args, *opts.OCRStatusFilter)
		where = append(where, fmt.Sprintf("ocr_status = $%d", len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			q += " WHERE " + clause
		} else {
			q += " AND " + clause
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultDocumentPageSize
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, opts.Offset)
	q += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "list documents")
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "scan document")
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// UpdateOCRResult writes a completed or failed OCR outcome back onto the
// owning Document (§4.D). Called inside the same transaction as the
// queue item's completion so the two never disagree.
func (s *Store) UpdateOCRResult(ctx context.Context, tx pgx.Tx, docID uuid.UUID, result OCRResult) error {
	const q = `UPDATE documents SET ocr_status = $2, ocr_text = $3, ocr_confidence = $4,
	           ocr_word_count = $5, ocr_processing_time_ms = $6, ocr_error = $7,
	           ocr_failure_reason = $8, ocr_completed_at = now(), updated_at = now()
	           WHERE id = $1`
	_, err := tx.Exec(ctx, q, docID, result.Status, result.Text, result.Confidence,
		result.WordCount, result.ProcessingTimeMS, result.Error, result.FailureReason)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "update ocr result")
	}
	return nil
}

// OCRResult is the outcome of one OCR extraction attempt, written back
// onto a Document by UpdateOCRResult.
type OCRResult struct {
	Status           domain.OCRStatus
	Text             string
	Confidence       float64
	WordCount        int
	ProcessingTimeMS int64
	Error            string
	FailureReason    domain.FailureReason
}

// UpdateBlobPath repairs a Document whose blob went missing on disk
// while its metadata row survived (§4.C repair-missing-blob path).
func (s *Store) UpdateBlobPath(ctx context.Context, id uuid.UUID, blobPath string) error {
	const q = `UPDATE documents SET blob_path = $2, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, blobPath)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "update blob path")
	}
	return nil
}

// DeleteDocument removes a Document's metadata row. Callers are
// responsible for deleting the underlying blob separately, since
// multiple documents (across users) may share a blob by content hash.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID, opts ListOptions) error {
	q := `DELETE FROM documents WHERE id = $1`
	args := []interface{}{id}
	if !opts.AsAdmin {
		q += ` AND user_id = $2`
		args = append(args, opts.AsUserID)
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "delete document")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.KindNotFound, "document not found")
	}
	return nil
}

const documentColumns = `id, user_id, filename, original_filename, blob_path, size, mime_type,
	content_hash, tags, ocr_status, ocr_text, ocr_confidence, ocr_word_count,
	ocr_processing_time_ms, ocr_error, ocr_failure_reason, ocr_completed_at, created_at, updated_at`

func scanDocument(row pgx.Row) (domain.Document, error) {
	var d domain.Document
	var hash []byte
	if err := row.Scan(&d.ID, &d.UserID, &d.Filename, &d.OriginalFilename, &d.BlobPath,
		&d.Size, &d.MimeType, &hash, &d.Tags, &d.OCRStatus, &d.OCRText, &d.OCRConfidence,
		&d.OCRWordCount, &d.OCRProcessingTimeMS, &d.OCRError, &d.OCRFailureReason,
		&d.OCRCompletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Document{}, err
	}
	copy(d.ContentHash[:], hash)
	return d, nil
}
