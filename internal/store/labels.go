package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/archivist/engine/pkg/errors"
)

// SetTags replaces a document's tag set outright.
func (s *Store) SetTags(ctx context.Context, docID uuid.UUID, tags []string) error {
	tags = dedupeOrdered(tags)
	const q = `UPDATE documents SET tags = $2, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, docID, tags)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "set tags")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.KindNotFound, "document not found")
	}
	return nil
}

// AddTags merges the given tags into a document's existing set.
func (s *Store) AddTags(ctx context.Context, docID uuid.UUID, tags []string) error {
	const q = `UPDATE documents SET tags = $2, updated_at = now() WHERE id = $1`
	doc, err := s.GetDocument(ctx, docID, ListOptions{AsAdmin: true})
	if err != nil {
		return err
	}
	merged := dedupeOrdered(append(append([]string{}, doc.Tags...), tags...))
	_, err = s.pool.Exec(ctx, q, docID, merged)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "add tags")
	}
	return nil
}

// RemoveTags removes the given tags from a document's existing set.
func (s *Store) RemoveTags(ctx context.Context, docID uuid.UUID, tags []string) error {
	doc, err := s.GetDocument(ctx, docID, ListOptions{AsAdmin: true})
	if err != nil {
		return err
	}
	remove := make(map[string]bool, len(tags))
	for _, t := range tags {
		remove[t] = true
	}
	kept := make([]string, 0, len(doc.Tags))
	for _, t := range doc.Tags {
		if !remove[t] {
			kept = append(kept, t)
		}
	}
	const q = `UPDATE documents SET tags = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, docID, kept); err != nil {
		return errors.Wrap(errors.KindInternal, err, "remove tags")
	}
	return nil
}

// dedupeOrdered drops empty and repeated tags, case-sensitively, keeping
// the first occurrence's position (§12.4: insertion order is preserved,
// not sorted).
func dedupeOrdered(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
