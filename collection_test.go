package roomsync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/roomsync/internal/faketable"
	"github.com/tablekit/roomsync/pkg/connection"
	"github.com/tablekit/roomsync/pkg/constants"
	"github.com/tablekit/roomsync/pkg/models"
)

func connectChannel(t *testing.T, srv *faketable.Server) *connection.Channel {
	t.Helper()
	ch := connection.NewChannel(connection.ConnectInfo{
		Server:               srv.URL(),
		SocketTimeoutSec:     5,
		ReconnectIntervalSec: 1,
	}, zerolog.Nop())
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { ch.Close(context.Background()) })
	return ch
}

func newNoteCollection(t *testing.T, srv *faketable.Server) *Collection[models.TagNote] {
	t.Helper()
	return NewCollection[models.TagNote](connectChannel(t, srv), "tag-note-list", zerolog.Nop())
}

func TestTouchAddCommitsAndReleases(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	cc := newNoteCollection(t, srv)
	ctx := context.Background()

	id, err := cc.Touch(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", id)
	assert.Equal(t, []string{"A1"}, cc.HeldLocks())

	_, err = cc.Add(ctx, id, models.TagNote{Text: "Hero"}, nil)
	require.NoError(t, err)
	assert.Empty(t, cc.HeldLocks())
	assert.Empty(t, srv.LockHolder("tag-note-list", "A1"))

	mirror, err := cc.GetList(ctx, false, "")
	require.NoError(t, err)
	require.Equal(t, 1, mirror.Len())
	doc := mirror.Get("A1")
	require.NotNil(t, doc)
	assert.Equal(t, "Hero", doc.Data.Text)
}

func TestTouchModifyIsExclusive(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")

	first := newNoteCollection(t, srv)
	second := newNoteCollection(t, srv)
	ctx := context.Background()

	require.NoError(t, first.TouchModify(ctx, "A1"))

	err := second.TouchModify(ctx, "A1")
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrTouched)
	assert.Empty(t, second.HeldLocks())

	// After release the other client may take the lock.
	require.NoError(t, first.ReleaseTouch(ctx, "A1"))
	require.NoError(t, second.TouchModify(ctx, "A1"))
}

func TestReservationsInvisibleInLists(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")

	cc := newNoteCollection(t, srv)
	other := newNoteCollection(t, srv)
	ctx := context.Background()

	_, err := cc.Touch(ctx, "A2")
	require.NoError(t, err)

	for _, col := range []*Collection[models.TagNote]{cc, other} {
		mirror, err := col.GetList(ctx, false, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"A1"}, mirror.IDs())
	}

	doc, err := other.GetData(ctx, "A2")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestMirrorConvergesOnPushedDiffs(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")

	reader := newNoteCollection(t, srv)
	writer := newNoteCollection(t, srv)
	ctx := context.Background()

	mirror, err := reader.GetList(ctx, true, "")
	require.NoError(t, err)
	require.Equal(t, 1, mirror.Len())

	ids, err := writer.AddDirect(ctx, []DirectAdd[models.TagNote]{{Data: models.TagNote{Text: "new"}}})
	require.NoError(t, err)
	added := ids[0]
	require.Eventually(t, func() bool {
		return mirror.Get(added) != nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, writer.TouchModify(ctx, added))
	require.NoError(t, writer.Update(ctx, added, models.TagNote{Text: "edited"}, UpdateOptions{}))
	require.Eventually(t, func() bool {
		doc := mirror.Get(added)
		return doc != nil && doc.Data.Text == "edited" && doc.Status == models.StatusModified
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, writer.TouchModify(ctx, added))
	require.NoError(t, writer.Delete(ctx, added))
	require.Eventually(t, func() bool {
		return mirror.Get(added) == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"A1"}, mirror.IDs())
}

func TestReleaseTouchIsIdempotent(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	cc := newNoteCollection(t, srv)
	ctx := context.Background()

	id, err := cc.Touch(ctx, "")
	require.NoError(t, err)

	require.NoError(t, cc.ReleaseTouch(ctx, id))
	// The id left the held set; a second release is a local no-op.
	require.NoError(t, cc.ReleaseTouch(ctx, id))
	require.NoError(t, cc.ReleaseTouch(ctx, "never-held"))

	// Releasing an unpopulated reservation discards it server-side.
	assert.Equal(t, 0, srv.DocCount("tag-note-list"))
}

func TestMutationRequiresHeldLock(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")
	cc := newNoteCollection(t, srv)
	ctx := context.Background()

	// A lifecycle bug that skips TouchModify must not slip through.
	err := cc.Update(ctx, "A1", models.TagNote{Text: "sneaky"}, UpdateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not touched")

	err = cc.Delete(ctx, "A1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not touched")
	assert.Equal(t, 1, srv.DocCount("tag-note-list"))

	doc, err := cc.GetData(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "x", doc.Data.Text)
}

func TestContinuousUpdateKeepsLock(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")
	cc := newNoteCollection(t, srv)
	ctx := context.Background()

	require.NoError(t, cc.TouchModify(ctx, "A1"))
	require.NoError(t, cc.Update(ctx, "A1", models.TagNote{Text: "drag-1"}, UpdateOptions{Continuous: true}))
	assert.Equal(t, []string{"A1"}, cc.HeldLocks())
	assert.NotEmpty(t, srv.LockHolder("tag-note-list", "A1"))

	require.NoError(t, cc.Update(ctx, "A1", models.TagNote{Text: "drag-2"}, UpdateOptions{}))
	assert.Empty(t, cc.HeldLocks())
	assert.Empty(t, srv.LockHolder("tag-note-list", "A1"))
}

func TestDestroyDrainsLocksAndSubscriptions(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")
	cc := newNoteCollection(t, srv)
	ctx := context.Background()

	_, err := cc.GetList(ctx, true, "")
	require.NoError(t, err)
	require.NoError(t, cc.TouchModify(ctx, "A1"))
	_, err = cc.Touch(ctx, "A2")
	require.NoError(t, err)

	cc.Destroy(ctx)

	assert.Empty(t, cc.HeldLocks())
	assert.Empty(t, srv.LockHolder("tag-note-list", "A1"))
	// The reservation was discarded on release, the real document kept.
	assert.Equal(t, 1, srv.DocCount("tag-note-list"))
}

func TestSnapshotOwnerKeyReplacement(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")
	cc := newNoteCollection(t, srv)
	writer := newNoteCollection(t, srv)
	ctx := context.Background()

	var firstSeen, secondSeen atomic.Int32
	_, err := cc.SetSnapshot(ctx, "window", "A1", func(models.Snapshot[models.TagNote]) { firstSeen.Add(1) })
	require.NoError(t, err)
	_, err = cc.SetSnapshot(ctx, "window", "A1", func(models.Snapshot[models.TagNote]) { secondSeen.Add(1) })
	require.NoError(t, err)

	require.NoError(t, writer.TouchModify(ctx, "A1"))
	require.NoError(t, writer.Update(ctx, "A1", models.TagNote{Text: "y"}, UpdateOptions{}))

	require.Eventually(t, func() bool { return secondSeen.Load() > 0 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, firstSeen.Load())
}

func TestFatalErrorClassification(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	cc := newNoteCollection(t, srv)
	ctx := context.Background()

	err := cc.Delete(ctx, "missing")
	assert.ErrorIs(t, err, constants.ErrNoSuchDocument)

	srv.Seed("tag-note-list", "A1", models.TagNote{Text: "x"}, "")
	_, err = cc.Touch(ctx, "A1")
	assert.ErrorIs(t, err, constants.ErrDuplicateDocument)
}
