package roomsync

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tablekit/roomsync/pkg/connection"
	"github.com/tablekit/roomsync/pkg/models"
)

const collectionOwnerKey = "collection-controller"

// Collection is the typed façade over one named collection: CRUD and the
// touch/lock protocol routed through the channel, plus live local-cache
// mirroring via snapshots. It owns the held-locks set of its collection; the
// server remains the lock arbiter.
type Collection[T any] struct {
	channel *connection.Channel
	name    string
	logger  zerolog.Logger

	mu        sync.Mutex
	touched   []string // held locks, in registration order
	snapshots map[string]*snapshotHandle
}

type snapshotHandle struct {
	dispose func()
}

// NewCollection builds a controller for one named collection. One instance
// per logical collection type.
func NewCollection[T any](channel *connection.Channel, name string, logger zerolog.Logger) *Collection[T] {
	return &Collection[T]{
		channel:   channel,
		name:      name,
		logger:    logger.With().Str("collection", name).Logger(),
		snapshots: make(map[string]*snapshotHandle),
	}
}

// Name returns the server-side collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// GetList fetches all materialized documents ordered by orderColumn (the
// order rank when empty). Reservations and non-existent documents are
// filtered out. With withSubscription, a standing collection-level
// subscription patches the returned mirror in place on every server diff.
func (c *Collection[T]) GetList(ctx context.Context, withSubscription bool, orderColumn string) (*Mirror[T], error) {
	if orderColumn == "" {
		orderColumn = "order"
	}

	var docs []models.Document[T]
	err := c.channel.Query(ctx, &docs, connection.MethodGetList, connection.ListRequest{
		Collection: c.name,
		Order:      orderColumn,
	})
	if err != nil {
		return nil, err
	}

	materialized := docs[:0]
	for _, doc := range docs {
		if doc.Exists() && !doc.IsReservation() {
			materialized = append(materialized, doc)
		}
	}
	mirror := newMirror(materialized)

	if withSubscription {
		_, err = c.SetCollectionSnapshot(ctx, collectionOwnerKey, func(changes []models.Change) {
			mirror.apply(changes, c.logger)
		})
		if err != nil {
			return nil, err
		}
	}
	return mirror, nil
}

// GetData point-fetches one document; nil if absent or still a reservation.
func (c *Collection[T]) GetData(ctx context.Context, id string) (*models.Document[T], error) {
	var doc *models.Document[T]
	err := c.channel.Query(ctx, &doc, connection.MethodGetData, connection.GetRequest{
		Collection: c.name,
		ID:         id,
	})
	if err != nil {
		return nil, err
	}
	if !doc.Exists() || doc.IsReservation() {
		return nil, nil
	}
	return doc, nil
}

// Find fetches the documents whose property equals value, existence-filtered.
func (c *Collection[T]) Find(ctx context.Context, property string, value any) ([]models.Document[T], error) {
	var docs []models.Document[T]
	err := c.channel.Query(ctx, &docs, connection.MethodFindData, connection.FindRequest{
		Collection: c.name,
		Property:   property,
		Value:      value,
	})
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, doc := range docs {
		if doc.Exists() {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Touch reserves a new document id ahead of creation. The server assigns the
// id unless desiredID is given. The id joins the held-locks set.
func (c *Collection[T]) Touch(ctx context.Context, desiredID string) (string, error) {
	var docID string
	err := c.channel.Send(ctx, &docID, connection.EventTouchData, connection.TouchRequest{
		Collection: c.name,
		ID:         desiredID,
	})
	if err != nil {
		return "", fatalError(err)
	}
	c.registerTouch(docID)
	return docID, nil
}

// TouchModify requests the exclusive edit lock on an existing document. The
// server refuses when another client holds the lock; that rejection surfaces
// wrapped in constants.ErrTouched and means "retry later or abandon", never
// corruption.
func (c *Collection[T]) TouchModify(ctx context.Context, id string) error {
	err := c.channel.Send(ctx, nil, connection.EventTouchDataModify, connection.TouchRequest{
		Collection: c.name,
		ID:         id,
	})
	if err != nil {
		return touchError(err)
	}
	c.registerTouch(id)
	return nil
}

// ReleaseTouch relinquishes a held lock without committing further changes.
// A no-op when the id is not held.
func (c *Collection[T]) ReleaseTouch(ctx context.Context, id string) error {
	if !c.unregisterTouch(id) {
		return nil
	}
	err := c.channel.Send(ctx, nil, connection.EventReleaseTouchData, connection.TouchRequest{
		Collection: c.name,
		ID:         id,
	})
	if err != nil {
		return fatalError(err)
	}
	return nil
}

// Add commits a previously touched reservation with real data. The
// permission defaults to fully open. Commit subsumes release: the id leaves
// the held-locks set.
func (c *Collection[T]) Add(ctx context.Context, id string, data T, permission *models.Permission) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	if permission == nil {
		permission = models.PermissionDefault()
	}

	c.unregisterTouch(id)
	var committedID string
	err = c.channel.Send(ctx, &committedID, connection.EventCreateData, connection.CreateRequest{
		Collection: c.name,
		ID:         id,
		Data:       raw,
		Permission: permission,
	})
	if err != nil {
		return "", fatalError(err)
	}
	return committedID, nil
}

// DirectAdd is one entry of an AddDirect bulk create.
type DirectAdd[T any] struct {
	Data       T
	Permission *models.Permission
	Owner      *string
}

// AddDirect creates documents in bulk without a prior touch; the server
// performs the reserve-and-commit internally. Used by composite fan-outs.
func (c *Collection[T]) AddDirect(ctx context.Context, entries []DirectAdd[T]) ([]string, error) {
	list := make([]connection.DirectAddEntry, 0, len(entries))
	for _, entry := range entries {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return nil, err
		}
		list = append(list, connection.DirectAddEntry{
			Data:       raw,
			Permission: entry.Permission,
			Owner:      entry.Owner,
		})
	}

	var ids []string
	err := c.channel.Send(ctx, &ids, connection.EventAddDirectData, connection.DirectAddRequest{
		Collection: c.name,
		List:       list,
	})
	if err != nil {
		return nil, fatalError(err)
	}
	return ids, nil
}

// UpdateOptions tune one Update call. Continuous keeps the lock held across
// rapid successive edits (e.g. drag-move) to avoid lock thrashing; the id
// then stays in the held-locks set until an eventual non-continuous update or
// an explicit release.
type UpdateOptions struct {
	Permission *models.Permission
	Owner      *string
	Continuous bool
}

// Update commits new data to a document locked via TouchModify. The lock is
// implicitly released unless Continuous is set.
func (c *Collection[T]) Update(ctx context.Context, id string, data T, opts UpdateOptions) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if !opts.Continuous {
		c.unregisterTouch(id)
	}
	err = c.channel.Send(ctx, nil, connection.EventUpdateData, connection.UpdateRequest{
		Collection: c.name,
		ID:         id,
		Data:       raw,
		Permission: opts.Permission,
		Owner:      opts.Owner,
		Continuous: opts.Continuous,
	})
	if err != nil {
		return fatalError(err)
	}
	return nil
}

// Delete removes a document. It requires the id to be held via a prior
// TouchModify and implicitly releases afterward.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	c.unregisterTouch(id)
	err := c.channel.Send(ctx, nil, connection.EventDeleteData, connection.DeleteRequest{
		Collection: c.name,
		ID:         id,
	})
	if err != nil {
		return fatalError(err)
	}
	return nil
}

// SetSnapshot installs a document-level subscription under ownerKey,
// delivering a snapshot on every change to that single id. Installing under
// an already-used ownerKey disposes the previous subscription first. The
// returned disposer tears the subscription down.
func (c *Collection[T]) SetSnapshot(ctx context.Context, ownerKey, docID string, onChange func(models.Snapshot[T])) (func(), error) {
	return c.installSnapshot(ctx, ownerKey, docID, func(push connection.Push) {
		var snap models.Snapshot[T]
		if err := json.Unmarshal(push.Snapshot, &snap); err != nil {
			c.logger.Error().Err(err).Str("id", docID).Msg("undecodable snapshot")
			return
		}
		onChange(snap)
	})
}

// SetCollectionSnapshot installs a collection-level subscription under
// ownerKey, delivering each pushed diff batch in server emission order.
func (c *Collection[T]) SetCollectionSnapshot(ctx context.Context, ownerKey string, onChange func([]models.Change)) (func(), error) {
	return c.installSnapshot(ctx, ownerKey, "", func(push connection.Push) {
		onChange(push.Changes)
	})
}

func (c *Collection[T]) installSnapshot(ctx context.Context, ownerKey, docID string, deliver func(connection.Push)) (func(), error) {
	subID := uuid.NewString()
	pushes, err := c.channel.Subscribe(subID)
	if err != nil {
		return nil, err
	}

	err = c.channel.Query(ctx, nil, connection.MethodSetSnapshot, connection.SnapshotRequest{
		Collection:   c.name,
		ID:           docID,
		Subscription: subID,
	})
	if err != nil {
		c.channel.Unsubscribe(subID)
		return nil, err
	}

	go func() {
		for push := range pushes {
			deliver(push)
		}
	}()

	handle := &snapshotHandle{}
	var once sync.Once
	handle.dispose = func() {
		once.Do(func() {
			err := c.channel.Query(context.Background(), nil, connection.MethodRemoveSnapshot, connection.SnapshotRequest{
				Collection:   c.name,
				Subscription: subID,
			})
			if err != nil {
				c.logger.Warn().Err(err).Str("ownerKey", ownerKey).Msg("snapshot removal failed")
			}
			c.channel.Unsubscribe(subID)

			c.mu.Lock()
			if c.snapshots[ownerKey] == handle {
				delete(c.snapshots, ownerKey)
			}
			c.mu.Unlock()
		})
	}

	c.mu.Lock()
	previous := c.snapshots[ownerKey]
	c.snapshots[ownerKey] = handle
	c.mu.Unlock()
	if previous != nil {
		previous.dispose()
	}

	return handle.dispose, nil
}

// Destroy disposes every active subscription, then serially releases every
// still-held lock in registration order. Sequential on purpose: releasing in
// parallel would flood the channel at teardown.
func (c *Collection[T]) Destroy(ctx context.Context) {
	c.mu.Lock()
	handles := make([]*snapshotHandle, 0, len(c.snapshots))
	for _, handle := range c.snapshots {
		handles = append(handles, handle)
	}
	held := make([]string, len(c.touched))
	copy(held, c.touched)
	c.mu.Unlock()

	for _, handle := range handles {
		handle.dispose()
	}

	for _, id := range held {
		if err := c.ReleaseTouch(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("id", id).Msg("release on destroy failed")
		}
	}
}

// HeldLocks returns a copy of the held-locks set in registration order.
func (c *Collection[T]) HeldLocks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.touched))
	copy(out, c.touched)
	return out
}

func (c *Collection[T]) registerTouch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = append(c.touched, id)
}

func (c *Collection[T]) unregisterTouch(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, held := range c.touched {
		if held == id {
			c.touched = append(c.touched[:i], c.touched[i+1:]...)
			return true
		}
	}
	return false
}
