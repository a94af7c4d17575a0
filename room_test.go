package roomsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/roomsync/internal/faketable"
	"github.com/tablekit/roomsync/pkg/constants"
	"github.com/tablekit/roomsync/pkg/models"
)

const testUserID = "user-1"

func seedBaseRoom(srv *faketable.Server) {
	data := models.DefaultRoomData()
	data.Name = "Test Room"
	data.SceneID = "scene-1"
	srv.Seed(colRoomData, "rd-1", data, "")

	srv.Seed(colUser, testUserID, models.User{Name: "Alice", Type: models.UserGM}, "")
	srv.Seed(colChatTab, "tab-sys", models.ChatTab{Name: "Main", IsSystem: true}, "")
	srv.Seed(colGroupChatTab, "gtab-sys", models.GroupChatTab{Name: "All", IsSystem: true}, "")
	srv.Seed(colActor, "actor-1", models.Actor{Name: "Alice", Type: models.ActorUser}, testUserID)
}

func newTestRoom(t *testing.T) (*faketable.Server, *Room) {
	t.Helper()
	srv := faketable.New()
	t.Cleanup(srv.Close)
	seedBaseRoom(srv)

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{
		UserID:    testUserID,
		System:    "TestSystem",
		BcdiceURL: "https://dice.example",
	})
	require.NoError(t, room.Init(context.Background()))
	return srv, room
}

func TestInitLoadsRoomState(t *testing.T) {
	_, room := newTestRoom(t)

	data := room.RoomData()
	assert.Equal(t, "Test Room", data.Name)
	assert.Equal(t, "scene-1", data.SceneID)

	public := room.ChatPublic()
	assert.Equal(t, "tab-sys", public.TabID)
	assert.Equal(t, "gtab-sys", public.TargetID)
	assert.Equal(t, "actor-1", public.ActorID)
	assert.Equal(t, "TestSystem", public.System)

	assert.Equal(t, 1, room.Users.Len())
	assert.True(t, room.IsGM())
	assert.Equal(t, "actor-1", room.MyselfActorID())
	assert.Equal(t, "Alice(GM)", room.UserName(testUserID))
}

func TestInitFailsWithoutRoomData(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{UserID: testUserID})
	err := room.Init(context.Background())
	require.Error(t, err)
}

func TestOperationsRequireInitialization(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{UserID: testUserID})

	_, err := room.AddActor(context.Background(), models.Actor{Name: "X"})
	assert.ErrorIs(t, err, constants.ErrNotInitialized)
	var appErr *ApplicationError
	assert.ErrorAs(t, err, &appErr)
	_, err = room.List(ListActor)
	assert.ErrorIs(t, err, constants.ErrNotInitialized)
}

func TestAddActorChoreography(t *testing.T) {
	srv, room := newTestRoom(t)
	ctx := context.Background()

	actorID, err := room.AddActor(ctx, models.Actor{Name: "Hero", Type: models.ActorCharacter})
	require.NoError(t, err)
	require.NotEmpty(t, actorID)

	actor, err := room.actorCC.GetData(ctx, actorID)
	require.NoError(t, err)
	require.NotNil(t, actor)
	assert.Equal(t, "Hero", actor.Data.Name)
	require.NotNil(t, actor.Owner)
	assert.Equal(t, testUserID, *actor.Owner)
	require.NotEmpty(t, actor.Data.StatusID)

	status, err := room.actorStatusCC.GetData(ctx, actor.Data.StatusID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Data.IsSystem)
	require.NotNil(t, status.Owner)
	assert.Equal(t, actorID, *status.Owner)

	// All locks taken during the choreography are gone.
	assert.Empty(t, room.actorCC.HeldLocks())
	assert.Empty(t, room.actorStatusCC.HeldLocks())
	assert.Empty(t, srv.LockHolder(colActorStatus, actor.Data.StatusID))
}

func TestAddSceneFansOutLinks(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	seedBaseRoom(srv)
	srv.Seed(colSceneLayer, "layer-1", models.SceneLayer{Type: "field"}, "")
	srv.Seed(colSceneLayer, "layer-2", models.SceneLayer{Type: "character"}, "")
	srv.Seed(colSceneObject, "obj-1", models.SceneObject{Type: models.ObjectChit}, "")
	srv.Seed(colSceneObject, "obj-2", models.SceneObject{Type: models.ObjectMapMask}, "")
	srv.Seed(colSceneObject, "obj-3", models.SceneObject{Type: models.ObjectCharacter}, "")

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{UserID: testUserID})
	ctx := context.Background()
	require.NoError(t, room.Init(ctx))

	sceneID, err := room.AddScene(ctx, models.Scene{Name: "Forest"})
	require.NoError(t, err)

	layerLinks, err := room.sceneAndLayerCC.Find(ctx, "sceneId", sceneID)
	require.NoError(t, err)
	assert.Len(t, layerLinks, 2)
	for _, link := range layerLinks {
		assert.True(t, link.Data.IsUse)
	}

	objectLinks, err := room.sceneAndObjectCC.Find(ctx, "sceneId", sceneID)
	require.NoError(t, err)
	assert.Len(t, objectLinks, 3)
	for _, link := range objectLinks {
		assert.Equal(t, models.EnteringNormal, link.Data.Entering)
	}
}

func TestDeleteSceneObjectReleasesLocksOnFailure(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	seedBaseRoom(srv)
	srv.Seed(colSceneObject, "obj-1", models.SceneObject{Type: models.ObjectChit}, "")
	srv.Seed(colSceneAndObject, "link-1", models.SceneAndObject{SceneID: "scene-1", ObjectID: "obj-1"}, "")
	srv.Seed(colSceneAndObject, "link-2", models.SceneAndObject{SceneID: "scene-2", ObjectID: "obj-1"}, "")

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{UserID: testUserID})
	ctx := context.Background()
	require.NoError(t, room.Init(ctx))

	// Another client pins one of the links.
	rival := NewCollection[models.SceneAndObject](connectChannel(t, srv), colSceneAndObject, zerolog.Nop())
	require.NoError(t, rival.TouchModify(ctx, "link-2"))

	err := room.DeleteSceneObject(ctx, "obj-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrTouched)

	// Nothing was deleted and no lock of ours survived the unwind.
	assert.Equal(t, 1, srv.DocCount(colSceneObject))
	assert.Equal(t, 2, srv.DocCount(colSceneAndObject))
	assert.Empty(t, srv.LockHolder(colSceneObject, "obj-1"))
	assert.Empty(t, srv.LockHolder(colSceneAndObject, "link-1"))
	assert.Empty(t, room.sceneObjectCC.HeldLocks())
	assert.Empty(t, room.sceneAndObjectCC.HeldLocks())
}

func TestDeleteSceneObjectRemovesLinksFirst(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	seedBaseRoom(srv)
	srv.Seed(colSceneObject, "obj-1", models.SceneObject{Type: models.ObjectChit}, "")
	srv.Seed(colSceneAndObject, "link-1", models.SceneAndObject{SceneID: "scene-1", ObjectID: "obj-1"}, "")

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{UserID: testUserID})
	ctx := context.Background()
	require.NoError(t, room.Init(ctx))

	require.NoError(t, room.DeleteSceneObject(ctx, "obj-1"))
	assert.Equal(t, 0, srv.DocCount(colSceneObject))
	assert.Equal(t, 0, srv.DocCount(colSceneAndObject))
}

func TestRemovedPushEvictsMirrorEntry(t *testing.T) {
	srv, room := newTestRoom(t)

	require.NotNil(t, room.Actors.Get("actor-1"))
	srv.PushChanges(colActor, []models.Change{
		{Type: models.ChangeRemoved, Ref: models.DocRef{ID: "actor-1"}},
	})
	require.Eventually(t, func() bool {
		return room.Actors.Get("actor-1") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestUpdateRoomDataAppliesPartial(t *testing.T) {
	_, room := newTestRoom(t)
	ctx := context.Background()

	sceneID := "scene-2"
	visitable := false
	chat := models.WindowAlwaysOn
	err := room.UpdateRoomData(ctx, models.PartialRoomData{
		SceneID: &sceneID,
		Settings: &models.PartialRoomSettings{
			Visitable:      &visitable,
			WindowSettings: &models.PartialWindowSettings{Chat: &chat},
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return room.RoomData().SceneID == "scene-2"
	}, time.Second, 10*time.Millisecond)
	data := room.RoomData()
	assert.False(t, data.Settings.Visitable)
	assert.Equal(t, models.WindowAlwaysOn, data.Settings.WindowSettings.Chat)
	// Untouched fields keep their values.
	assert.True(t, data.Settings.IsFitGrid)
	assert.Equal(t, "Test Room", data.Name)
}

func TestUpdateRoomDataReleasesLockOnFetchFailure(t *testing.T) {
	srv, room := newTestRoom(t)
	ctx := context.Background()

	srv.FailNext("get-data", "backend unavailable")
	name := "Renamed"
	err := room.UpdateRoomData(ctx, models.PartialRoomData{Name: &name})
	require.Error(t, err)

	// The failed update must not leave the singleton pinned.
	assert.Empty(t, room.roomDataCC.HeldLocks())
	assert.Empty(t, srv.LockHolder(colRoomData, "rd-1"))

	rival := NewCollection[models.RoomData](connectChannel(t, srv), colRoomData, zerolog.Nop())
	require.NoError(t, rival.TouchModify(ctx, "rd-1"))
}

func TestUpdateRoomDataSurfacesContention(t *testing.T) {
	srv, room := newTestRoom(t)
	ctx := context.Background()

	rival := NewCollection[models.RoomData](connectChannel(t, srv), colRoomData, zerolog.Nop())
	require.NoError(t, rival.TouchModify(ctx, "rd-1"))

	name := "Renamed"
	err := room.UpdateRoomData(ctx, models.PartialRoomData{Name: &name})
	assert.ErrorIs(t, err, constants.ErrTouched)
}

func TestListDispatch(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	seedBaseRoom(srv)
	srv.Seed(colSceneObject, "obj-1", models.SceneObject{Type: models.ObjectChit}, "")
	srv.Seed(colSceneObject, "obj-2", models.SceneObject{Type: models.ObjectMapMask}, "")

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{UserID: testUserID})
	require.NoError(t, room.Init(context.Background()))

	users, err := room.List(ListUser)
	require.NoError(t, err)
	assert.Len(t, users.([]models.Document[models.User]), 1)

	chits, err := room.List(ListChit)
	require.NoError(t, err)
	docs := chits.([]models.Document[models.SceneObject])
	require.Len(t, docs, 1)
	assert.Equal(t, "obj-1", docs[0].ID)

	_, err = room.List(ListKind("bogus"))
	assert.Error(t, err)
}

func TestLoadChatFormats(t *testing.T) {
	_, room := newTestRoom(t)

	path := filepath.Join(t.TempDir(), "chatFormat.yaml")
	content := "- label: greet\n  chatText: \"Hello {0}\"\n- label: roll\n  chatText: \"2d6\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, room.LoadChatFormats(path))
	formats := room.ChatFormats()
	require.Len(t, formats, 2)
	assert.Equal(t, "greet", formats[0].Label)
	assert.Equal(t, "Hello {0}", formats[0].ChatText)
}

func TestExclusionOwnerLookups(t *testing.T) {
	srv := faketable.New()
	t.Cleanup(srv.Close)
	seedBaseRoom(srv)
	srv.Seed(colSocketUser, "su-1", models.SocketUser{UserID: testUserID, SocketID: "sock-9"}, "")

	room := NewRoom(connectChannel(t, srv), zerolog.Nop(), JoinInfo{UserID: testUserID})
	require.NoError(t, room.Init(context.Background()))

	assert.Equal(t, testUserID, room.ExclusionOwnerID("sock-9"))
	assert.Equal(t, "Alice", room.ExclusionOwnerName("sock-9"))
	assert.Empty(t, room.ExclusionOwnerID("sock-unknown"))
}
