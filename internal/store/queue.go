package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// Enqueue adds a document to the OCR queue at the given priority (§4.C,
// §4.D). priority follows domain.PriorityForSize, optionally boosted by
// domain.ManualRetryBoost for a user-triggered retry. Idempotent: if an
// item for documentID already exists (the table's UNIQUE(document_id)
// constraint), the existing row is returned unchanged rather than erroring
// — its priority is never overwritten by a later enqueue.
func (s *Store) Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (domain.OCRQueueItem, error) {
	const q = `INSERT INTO ocr_queue (id, document_id, priority, max_attempts)
	           VALUES ($1, $2, $3, $4)
	           ON CONFLICT (document_id) DO NOTHING
	           RETURNING ` + queueColumns
	row := s.pool.QueryRow(ctx, q, uuid.New(), documentID, priority, domain.DefaultMaxAttempts)
	item, err := scanQueueItem(row)
	if err == nil {
		return item, nil
	}
	if err != pgx.ErrNoRows {
		return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "enqueue ocr item")
	}

	const existingQ = `SELECT ` + queueColumns + ` FROM ocr_queue WHERE document_id = $1`
	existing, err := scanQueueItem(s.pool.QueryRow(ctx, existingQ, documentID))
	if err != nil {
		return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "load existing ocr item")
	}
	return existing, nil
}

// ClaimNext atomically claims the single highest-priority pending item
// whose visible_after has elapsed, in the order fixed by
// idx_ocr_queue_claim: priority DESC, created_at ASC, id ASC (§4.D). The
// SKIP LOCKED clause lets concurrent workers claim distinct rows without
// blocking on each other.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (domain.OCRQueueItem, bool, error) {
	const q = `UPDATE ocr_queue SET status = $1, worker_id = $2, claimed_at = now(), started_at = now(), attempts = attempts + 1
	           WHERE id = (
	               SELECT id FROM ocr_queue
	               WHERE status = $3 AND visible_after <= now()
	               ORDER BY priority DESC, created_at ASC, id ASC
	               LIMIT 1
	               FOR UPDATE SKIP LOCKED
	           )
	           RETURNING ` + queueColumns

	row := s.pool.QueryRow(ctx, q, domain.QueueItemProcessing, workerID, domain.QueueItemPending)
	item, err := scanQueueItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.OCRQueueItem{}, false, nil
		}
		return domain.OCRQueueItem{}, false, errors.Wrap(errors.KindInternal, err, "claim next ocr item")
	}
	return item, true, nil
}

// Complete marks a claimed item as completed and writes its OCR result
// onto the owning Document in the same transaction (§4.D).
func (s *Store) Complete(ctx context.Context, itemID, documentID uuid.UUID, result OCRResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE ocr_queue SET status = $2, completed_at = now() WHERE id = $1 AND status = $3`
	tag, err := tx.Exec(ctx, q, itemID, domain.QueueItemCompleted, domain.QueueItemProcessing)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "complete ocr item")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.KindLeaseLost, "ocr item was not in processing state")
	}

	if err := s.UpdateOCRResult(ctx, tx, documentID, result); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.KindInternal, err, "commit ocr completion")
	}
	return nil
}

// Fail records a failed attempt. If attempts remain and reason is
// retriable, the item returns to pending after an exponential backoff
// with jitter; otherwise it is marked permanently Failed and the
// Document's OCR status is updated to match (§4.D).
func (s *Store) Fail(ctx context.Context, itemID, documentID uuid.UUID, reason domain.FailureReason, errMsg string, nextDelay time.Duration, result OCRResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	var item domain.OCRQueueItem
	row := tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM ocr_queue WHERE id = $1 AND status = $2 FOR UPDATE`,
		itemID, domain.QueueItemProcessing)
	item, err = scanQueueItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return errors.New(errors.KindLeaseLost, "ocr item was not in processing state")
		}
		return errors.Wrap(errors.KindInternal, err, "load ocr item")
	}

	giveUp := item.Attempts >= item.MaxAttempts || !reason.Retriable()
	if giveUp {
		const q = `UPDATE ocr_queue SET status = $2, error_message = $3, completed_at = now() WHERE id = $1`
		if _, err := tx.Exec(ctx, q, itemID, domain.QueueItemFailed, errMsg); err != nil {
			return errors.Wrap(errors.KindInternal, err, "fail ocr item")
		}
		if err := s.UpdateOCRResult(ctx, tx, documentID, result); err != nil {
			return err
		}
	} else {
		const q = `UPDATE ocr_queue SET status = $2, error_message = $3,
		           visible_after = now() + ($4 * interval '1 second'),
		           claimed_at = NULL, worker_id = '' WHERE id = $1`
		if _, err := tx.Exec(ctx, q, itemID, domain.QueueItemPending, errMsg, nextDelay.Seconds()); err != nil {
			return errors.Wrap(errors.KindInternal, err, "reschedule ocr item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.KindInternal, err, "commit ocr failure")
	}
	return nil
}

// ReapStale returns claimed items whose lease has exceeded leaseTimeout
// to pending (or to Failed if they've exhausted their attempts), run
// periodically by the background reaper (§4.D).
func (s *Store) ReapStale(ctx context.Context, leaseTimeout time.Duration) (recovered, failed int, err error) {
	leaseSeconds := leaseTimeout.Seconds()

	const recoverQ = `UPDATE ocr_queue SET status = $1, claimed_at = NULL, worker_id = '', visible_after = now()
	                  WHERE status = $2 AND claimed_at < now() - ($3 * interval '1 second') AND attempts < max_attempts`
	tag, err := s.pool.Exec(ctx, recoverQ, domain.QueueItemPending, domain.QueueItemProcessing, leaseSeconds)
	if err != nil {
		return 0, 0, errors.Wrap(errors.KindInternal, err, "reap stale: recover")
	}
	recovered = int(tag.RowsAffected())

	const failQ = `UPDATE ocr_queue SET status = $1, completed_at = now(), error_message = 'lease expired: timeout'
	              WHERE status = $2 AND claimed_at < now() - ($3 * interval '1 second') AND attempts >= max_attempts`
	tag, err = s.pool.Exec(ctx, failQ, domain.QueueItemFailed, domain.QueueItemProcessing, leaseSeconds)
	if err != nil {
		return recovered, 0, errors.Wrap(errors.KindInternal, err, "reap stale: fail")
	}
	failed = int(tag.RowsAffected())
	return recovered, failed, nil
}

// RetryOCR re-runs OCR for a document that already has a queue item
// (§4.D, §6 retry_ocr): since document_id is unique, the existing item is
// superseded in place — reset to Pending at the given (boosted) priority
// with its attempt history cleared — rather than a second row being
// created alongside it, which the ocr_queue schema's UNIQUE(document_id)
// constraint would reject outright. The owning Document's OCR fields are
// reset in the same transaction so a caller never observes a
// Completed/Failed document with a Pending queue item or vice versa. If
// the document has no queue item yet (first OCR attempt never ran),
// one is created.
func (s *Store) RetryOCR(ctx context.Context, documentID uuid.UUID, priority int, opts ListOptions) (domain.OCRQueueItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	docQ := `SELECT id FROM documents WHERE id = $1`
	docArgs := []interface{}{documentID}
	if !opts.AsAdmin {
		docQ += ` AND user_id = $2`
		docArgs = append(docArgs, opts.AsUserID)
	}
	var docID uuid.UUID
	if err := tx.QueryRow(ctx, docQ, docArgs...).Scan(&docID); err != nil {
		if err == pgx.ErrNoRows {
			return domain.OCRQueueItem{}, errors.New(errors.KindNotFound, "document not found")
		}
		return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "load document")
	}

	const resetDocQ = `UPDATE documents SET ocr_status = $2, ocr_text = '', ocr_confidence = 0,
	           ocr_word_count = 0, ocr_processing_time_ms = 0, ocr_error = '',
	           ocr_failure_reason = '', ocr_completed_at = NULL, updated_at = now()
	           WHERE id = $1`
	if _, err := tx.Exec(ctx, resetDocQ, documentID, domain.OCRStatusPending); err != nil {
		return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "reset document ocr fields")
	}

	const resetItemQ = `UPDATE ocr_queue SET status = $2, priority = $3, attempts = 0,
	           worker_id = '', claimed_at = NULL, visible_after = now(), error_message = '',
	           started_at = NULL, completed_at = NULL
	           WHERE document_id = $1
	           RETURNING ` + queueColumns
	row := tx.QueryRow(ctx, resetItemQ, documentID, domain.QueueItemPending, priority)
	item, err := scanQueueItem(row)
	if err != nil {
		if err != pgx.ErrNoRows {
			return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "reset ocr queue item")
		}
		const insertQ = `INSERT INTO ocr_queue (id, document_id, priority, max_attempts)
		           VALUES ($1, $2, $3, $4)
		           RETURNING ` + queueColumns
		item, err = scanQueueItem(tx.QueryRow(ctx, insertQ, uuid.New(), documentID, priority, domain.DefaultMaxAttempts))
		if err != nil {
			return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "create ocr queue item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OCRQueueItem{}, errors.Wrap(errors.KindInternal, err, "commit ocr retry")
	}
	return item, nil
}

// QueueDepth returns the number of items currently pending, used by the
// OCR worker pool to report the queue-depth metric (§4.D).
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	const q = `SELECT count(*) FROM ocr_queue WHERE status = $1`
	var n int64
	if err := s.pool.QueryRow(ctx, q, domain.QueueItemPending).Scan(&n); err != nil {
		return 0, errors.Wrap(errors.KindInternal, err, "count queue depth")
	}
	return n, nil
}

const queueColumns = `id, document_id, priority, status, attempts, max_attempts, worker_id,
	claimed_at, visible_after, error_message, created_at, started_at, completed_at`

func scanQueueItem(row pgx.Row) (domain.OCRQueueItem, error) {
	var item domain.OCRQueueItem
	if err := row.Scan(&item.ID, &item.DocumentID, &item.Priority, &item.Status, &item.Attempts,
		&item.MaxAttempts, &item.WorkerID, &item.ClaimedAt, &item.VisibleAfter, &item.ErrorMessage,
		&item.CreatedAt, &item.StartedAt, &item.CompletedAt); err != nil {
		return domain.OCRQueueItem{}, err
	}
	return item, nil
}
