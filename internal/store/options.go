package store

import "github.com/google/uuid"

// ListOptions scopes a query to the caller's role (§3): a regular user
// only ever sees their own rows, an admin sees everyone's.
type ListOptions struct {
	AsUserID uuid.UUID
	AsAdmin  bool
}

// DocumentListOptions extends ListOptions with the pagination and status
// filter §6's document listing operation exposes. Limit <= 0 means
// "use the default page size"; OCRStatusFilter == nil means "any status".
type DocumentListOptions struct {
	ListOptions
	Limit          int
	Offset         int
	OCRStatusFilter *string
}
