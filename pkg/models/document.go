package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Status marks whether a document has been edited since it was created.
type Status string

const (
	StatusInitial  Status = "initial"
	StatusModified Status = "modified"
)

// Document is a versioned document in a named collection.
//
// A Document with a nil Data is a reservation: it has been allocated an id via
// touch but not yet populated. Readers must treat reservations as absent from
// any materialized list.
type Document[T any] struct {
	ID         string      `json:"id"`
	Order      float64     `json:"order"`
	Status     Status      `json:"status"`
	Owner      *string     `json:"owner"`
	Permission *Permission `json:"permission,omitempty"`
	Data       *T          `json:"data"`
	CreateTime *time.Time  `json:"createTime,omitempty"`
	UpdateTime *time.Time  `json:"updateTime,omitempty"`
}

// Exists reports whether the document was materialized on the server side.
func (d *Document[T]) Exists() bool {
	return d != nil && d.ID != ""
}

// IsReservation reports whether the document is touched but not yet populated.
func (d *Document[T]) IsReservation() bool {
	return d == nil || d.Data == nil
}

// Snapshot is delivered by a document-level subscription on every change to a
// single id.
type Snapshot[T any] struct {
	Exists bool         `json:"exists"`
	Data   *Document[T] `json:"data"`
}

// ChangeType classifies one entry of a collection-level subscription batch.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// DocRef identifies the document a change applies to.
type DocRef struct {
	ID string `json:"id"`
}

// Change is one entry of a collection-level subscription batch. Data carries
// the raw document for added/modified entries and is empty for removed ones.
type Change struct {
	Type ChangeType      `json:"type"`
	Ref  DocRef          `json:"ref"`
	Data json.RawMessage `json:"data,omitempty"`
}
