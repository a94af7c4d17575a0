package connection

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tablekit/roomsync/pkg/models"
)

// Touch-protocol events. Each emits the event name and expects exactly one
// "result-"+event reply carrying either an error string or a result value.
const (
	EventTouchData        = "touch-data"
	EventTouchDataModify  = "touch-data-modify"
	EventReleaseTouchData = "release-touch-data"
	EventCreateData       = "create-data"
	EventAddDirectData    = "add-direct-data"
	EventUpdateData       = "update-data"
	EventDeleteData       = "delete-data"
)

// Store queries. These ride the id-correlated path and may run in parallel.
const (
	MethodGetList        = "get-list"
	MethodGetData        = "get-data"
	MethodFindData       = "find-data"
	MethodSetSnapshot    = "set-snapshot"
	MethodRemoveSnapshot = "remove-snapshot"
)

const resultPrefix = "result-"

// Message is one frame on the wire, in either direction.
//
// Client to server: Event plus Data, and ID when the caller wants id
// correlation. Server to client: either a reply ("result-"+Event, echoing ID
// when one was sent, with Error or Result) or a subscription push
// (Subscription set, carrying Changes for a collection-level subscription or
// Snapshot for a document-level one).
type Message struct {
	Event  string          `json:"event,omitempty"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *string         `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	Subscription string          `json:"subscription,omitempty"`
	Changes      []models.Change `json:"changes,omitempty"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
}

// ResultEvent names the one reply event of a request event.
func ResultEvent(event string) string {
	return resultPrefix + event
}

func isResultEvent(event string) (string, bool) {
	name := strings.TrimPrefix(event, resultPrefix)
	return name, name != event
}

// Push is a routed subscription delivery.
type Push struct {
	Subscription string
	Changes      []models.Change
	Snapshot     json.RawMessage
}

// ServerError is a rejection carried on a result event. The server reports
// plain strings, not structured errors; Event records which exchange failed.
type ServerError struct {
	Event   string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Event, e.Message)
}

// TouchRequest is the payload of touch-data, touch-data-modify and
// release-touch-data.
type TouchRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id,omitempty"`
}

// CreateRequest is the payload of create-data.
type CreateRequest struct {
	Collection string             `json:"collection"`
	ID         string             `json:"id"`
	Data       json.RawMessage    `json:"data"`
	Permission *models.Permission `json:"permission,omitempty"`
}

// DirectAddEntry is one entry of an add-direct-data bulk create.
type DirectAddEntry struct {
	Data       json.RawMessage    `json:"data"`
	Permission *models.Permission `json:"permission,omitempty"`
	Owner      *string            `json:"owner,omitempty"`
}

// DirectAddRequest is the payload of add-direct-data.
type DirectAddRequest struct {
	Collection string           `json:"collection"`
	List       []DirectAddEntry `json:"list"`
}

// UpdateRequest is the payload of update-data. Continuous suppresses the
// implicit lock release for rapid successive edits.
type UpdateRequest struct {
	Collection string             `json:"collection"`
	ID         string             `json:"id"`
	Data       json.RawMessage    `json:"data"`
	Permission *models.Permission `json:"permission,omitempty"`
	Owner      *string            `json:"owner,omitempty"`
	Continuous bool               `json:"continuous,omitempty"`
}

// DeleteRequest is the payload of delete-data.
type DeleteRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// ListRequest is the payload of get-list.
type ListRequest struct {
	Collection string `json:"collection"`
	Order      string `json:"order,omitempty"`
}

// GetRequest is the payload of get-data.
type GetRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// FindRequest is the payload of find-data; the only supported operand is
// property equality.
type FindRequest struct {
	Collection string `json:"collection"`
	Property   string `json:"property"`
	Value      any    `json:"value"`
}

// SnapshotRequest is the payload of set-snapshot and remove-snapshot. A
// document-level subscription names the document id; a collection-level one
// leaves it empty.
type SnapshotRequest struct {
	Collection   string `json:"collection"`
	ID           string `json:"id,omitempty"`
	Subscription string `json:"subscription"`
}
