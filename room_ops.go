package roomsync

import (
	"context"
	"fmt"

	"github.com/tablekit/roomsync/pkg/models"
)

// AddActor runs the three-step actor creation choreography: allocate a status
// document with private defaults, create the actor carrying the status id
// under an ownership-transferable permission, then re-lock the status to
// record the actor as its owner. There is no atomicity across the steps; a
// failure after the first leaves an orphaned status document, which is
// accepted and reported rather than unwound.
func (r *Room) AddActor(ctx context.Context, actor models.Actor) (string, error) {
	if err := r.requireInitialized(); err != nil {
		return "", err
	}

	statusID, err := r.actorStatusCC.Touch(ctx, "")
	if err != nil {
		return "", err
	}
	status := models.ActorStatus{Name: "◆", IsSystem: true}
	if _, err := r.actorStatusCC.Add(ctx, statusID, status, models.PermissionOwnerView()); err != nil {
		return "", err
	}

	actor.StatusID = statusID
	ids, err := r.actorCC.AddDirect(ctx, []DirectAdd[models.Actor]{{
		Data:       actor,
		Permission: models.PermissionOwnerChange(),
		Owner:      &r.join.UserID,
	}})
	if err != nil {
		return "", err
	}
	actorID := ids[0]

	if err := r.actorStatusCC.TouchModify(ctx, statusID); err != nil {
		return "", err
	}
	if err := r.actorStatusCC.Update(ctx, statusID, status, UpdateOptions{Owner: &actorID}); err != nil {
		return "", err
	}
	return actorID, nil
}

// AddScene creates a scene and fans out one link document per existing layer
// and per existing scene object, each fan-out set as one bulk add. The layer
// and object lists are fetched fresh rather than read from the mirrors so a
// concurrent add on another client cannot leave a scene without its link.
func (r *Room) AddScene(ctx context.Context, scene models.Scene) (string, error) {
	if err := r.requireInitialized(); err != nil {
		return "", err
	}

	ids, err := r.sceneCC.AddDirect(ctx, []DirectAdd[models.Scene]{{Data: scene}})
	if err != nil {
		return "", err
	}
	sceneID := ids[0]

	layers, err := r.sceneLayerCC.GetList(ctx, false, "")
	if err != nil {
		return "", err
	}
	layerLinks := make([]DirectAdd[models.SceneAndLayer], 0, layers.Len())
	for _, layerID := range layers.IDs() {
		layerLinks = append(layerLinks, DirectAdd[models.SceneAndLayer]{
			Data: models.SceneAndLayer{SceneID: sceneID, LayerID: layerID, IsUse: true},
		})
	}
	if len(layerLinks) > 0 {
		if _, err := r.sceneAndLayerCC.AddDirect(ctx, layerLinks); err != nil {
			return "", err
		}
	}

	objects, err := r.sceneObjectCC.GetList(ctx, false, "")
	if err != nil {
		return "", err
	}
	objectLinks := make([]DirectAdd[models.SceneAndObject], 0, objects.Len())
	for _, objectID := range objects.IDs() {
		objectLinks = append(objectLinks, DirectAdd[models.SceneAndObject]{
			Data: newSceneObjectLink(sceneID, objectID),
		})
	}
	if len(objectLinks) > 0 {
		if _, err := r.sceneAndObjectCC.AddDirect(ctx, objectLinks); err != nil {
			return "", err
		}
	}
	return sceneID, nil
}

// AddSceneLayer creates a layer and links it into every existing scene.
func (r *Room) AddSceneLayer(ctx context.Context, layer models.SceneLayer) (string, error) {
	if err := r.requireInitialized(); err != nil {
		return "", err
	}

	ids, err := r.sceneLayerCC.AddDirect(ctx, []DirectAdd[models.SceneLayer]{{Data: layer}})
	if err != nil {
		return "", err
	}
	layerID := ids[0]

	scenes, err := r.sceneCC.GetList(ctx, false, "")
	if err != nil {
		return "", err
	}
	links := make([]DirectAdd[models.SceneAndLayer], 0, scenes.Len())
	for _, sceneID := range scenes.IDs() {
		links = append(links, DirectAdd[models.SceneAndLayer]{
			Data: models.SceneAndLayer{SceneID: sceneID, LayerID: layerID, IsUse: true},
		})
	}
	if len(links) > 0 {
		if _, err := r.sceneAndLayerCC.AddDirect(ctx, links); err != nil {
			return "", err
		}
	}
	return layerID, nil
}

// AddSceneObject creates a scene object and links it into every existing
// scene with default placement.
func (r *Room) AddSceneObject(ctx context.Context, object models.SceneObject) (string, error) {
	if err := r.requireInitialized(); err != nil {
		return "", err
	}

	ids, err := r.sceneObjectCC.AddDirect(ctx, []DirectAdd[models.SceneObject]{{
		Data:       object,
		Permission: models.PermissionOwnerChange(),
		Owner:      &r.join.UserID,
	}})
	if err != nil {
		return "", err
	}
	objectID := ids[0]

	scenes, err := r.sceneCC.GetList(ctx, false, "")
	if err != nil {
		return "", err
	}
	links := make([]DirectAdd[models.SceneAndObject], 0, scenes.Len())
	for _, sceneID := range scenes.IDs() {
		links = append(links, DirectAdd[models.SceneAndObject]{
			Data: newSceneObjectLink(sceneID, objectID),
		})
	}
	if len(links) > 0 {
		if _, err := r.sceneAndObjectCC.AddDirect(ctx, links); err != nil {
			return "", err
		}
	}
	return objectID, nil
}

func newSceneObjectLink(sceneID, objectID string) models.SceneAndObject {
	return models.SceneAndObject{
		SceneID:  sceneID,
		ObjectID: objectID,
		Entering: models.EnteringNormal,
	}
}

// DeleteSceneObject locks the object and every link document referencing it,
// then deletes links before the object. If any lock cannot be taken, every
// lock acquired so far is released before the error is reported, so no
// half-locked state survives the call.
func (r *Room) DeleteSceneObject(ctx context.Context, objectID string) error {
	if err := r.requireInitialized(); err != nil {
		return err
	}

	links := r.SceneAndObjects.Find(func(d *models.Document[models.SceneAndObject]) bool {
		return d.Data.ObjectID == objectID
	})

	if err := r.sceneObjectCC.TouchModify(ctx, objectID); err != nil {
		return err
	}
	locked := make([]string, 0, len(links))
	for _, link := range links {
		if err := r.sceneAndObjectCC.TouchModify(ctx, link.ID); err != nil {
			for _, id := range locked {
				if rerr := r.sceneAndObjectCC.ReleaseTouch(ctx, id); rerr != nil {
					r.logger.Warn().Err(rerr).Str("id", id).Msg("link lock release failed during unwind")
				}
			}
			if rerr := r.sceneObjectCC.ReleaseTouch(ctx, objectID); rerr != nil {
				r.logger.Warn().Err(rerr).Str("id", objectID).Msg("object lock release failed during unwind")
			}
			return err
		}
		locked = append(locked, link.ID)
	}

	for _, id := range locked {
		if err := r.sceneAndObjectCC.Delete(ctx, id); err != nil {
			return err
		}
	}
	return r.sceneObjectCC.Delete(ctx, objectID)
}

// UpdateRoomData applies a sparse update to the singleton room-settings
// document under its edit lock. Only the fields present in the partial are
// changed; everything else keeps its current remote value.
func (r *Room) UpdateRoomData(ctx context.Context, partial models.PartialRoomData) error {
	if err := r.requireInitialized(); err != nil {
		return err
	}
	if err := r.roomDataCC.TouchModify(ctx, r.roomDataID); err != nil {
		return err
	}

	doc, err := r.roomDataCC.GetData(ctx, r.roomDataID)
	if err != nil {
		r.releaseRoomDataLock(ctx)
		return err
	}
	if doc == nil {
		r.releaseRoomDataLock(ctx)
		return &SystemError{Message: "room data document is missing"}
	}
	data := *doc.Data
	applyPartialRoomData(&data, partial)
	return r.roomDataCC.Update(ctx, r.roomDataID, data, UpdateOptions{})
}

// releaseRoomDataLock unwinds the singleton's edit lock when an update cannot
// proceed, so a failed update never leaves the room settings pinned.
func (r *Room) releaseRoomDataLock(ctx context.Context) {
	if err := r.roomDataCC.ReleaseTouch(ctx, r.roomDataID); err != nil {
		r.logger.Warn().Err(err).Str("id", r.roomDataID).Msg("room data lock release failed during unwind")
	}
}

func applyPartialRoomData(data *models.RoomData, p models.PartialRoomData) {
	if p.Name != nil {
		data.Name = *p.Name
	}
	if p.SceneID != nil {
		data.SceneID = *p.SceneID
	}
	if p.Settings == nil {
		return
	}
	s := p.Settings
	if s.Visitable != nil {
		data.Settings.Visitable = *s.Visitable
	}
	if s.IsFitGrid != nil {
		data.Settings.IsFitGrid = *s.IsFitGrid
	}
	if s.IsViewDice != nil {
		data.Settings.IsViewDice = *s.IsViewDice
	}
	if s.IsViewCutIn != nil {
		data.Settings.IsViewCutIn = *s.IsViewCutIn
	}
	if s.IsDrawGridID != nil {
		data.Settings.IsDrawGridID = *s.IsDrawGridID
	}
	if s.MapRotatable != nil {
		data.Settings.MapRotatable = *s.MapRotatable
	}
	if s.IsDrawGridLine != nil {
		data.Settings.IsDrawGridLine = *s.IsDrawGridLine
	}
	if s.IsShowStandImage != nil {
		data.Settings.IsShowStandImage = *s.IsShowStandImage
	}
	if s.IsShowRotateMarker != nil {
		data.Settings.IsShowRotateMarker = *s.IsShowRotateMarker
	}
	if w := s.WindowSettings; w != nil {
		if w.Chat != nil {
			data.Settings.WindowSettings.Chat = *w.Chat
		}
		if w.Resource != nil {
			data.Settings.WindowSettings.Resource = *w.Resource
		}
		if w.Initiative != nil {
			data.Settings.WindowSettings.Initiative = *w.Initiative
		}
		if w.ChatPalette != nil {
			data.Settings.WindowSettings.ChatPalette = *w.ChatPalette
		}
		if w.CounterRemocon != nil {
			data.Settings.WindowSettings.CounterRemocon = *w.CounterRemocon
		}
	}
}

// UserName resolves a user id to its display name, suffixed with the user
// type for non-players.
func (r *Room) UserName(userID string) string {
	doc := r.Users.Get(userID)
	if doc == nil || doc.Data == nil {
		return ""
	}
	switch doc.Data.Type {
	case models.UserGM:
		return doc.Data.Name + "(GM)"
	case models.UserVisitor:
		return doc.Data.Name + "(Visitor)"
	default:
		return doc.Data.Name
	}
}

// ExclusionOwnerID resolves a live connection id to the user behind it: the
// holder of the exclusive edit claim recorded against that socket.
func (r *Room) ExclusionOwnerID(socketID string) string {
	doc := r.SocketUsers.First(func(d *models.Document[models.SocketUser]) bool {
		return d.Data.SocketID == socketID
	})
	if doc == nil {
		return ""
	}
	return doc.Data.UserID
}

// ExclusionOwnerName resolves a live connection id to that user's display
// name, without the type suffix.
func (r *Room) ExclusionOwnerName(socketID string) string {
	userID := r.ExclusionOwnerID(socketID)
	if userID == "" {
		return ""
	}
	doc := r.Users.Get(userID)
	if doc == nil || doc.Data == nil {
		return ""
	}
	return doc.Data.Name
}

// MyselfUser returns this session's own user document, or nil before the
// user list has loaded it.
func (r *Room) MyselfUser() *models.Document[models.User] {
	return r.Users.Get(r.join.UserID)
}

// SelfActors returns the actors owned by this session's user.
func (r *Room) SelfActors() []models.Document[models.Actor] {
	return r.Actors.Find(func(d *models.Document[models.Actor]) bool {
		return d.Owner != nil && *d.Owner == r.join.UserID
	})
}

// IsGM reports whether this session's user has the GM role.
func (r *Room) IsGM() bool {
	doc := r.MyselfUser()
	return doc != nil && doc.Data != nil && doc.Data.Type == models.UserGM
}

// MyselfActorID returns the id of this user's own user-type actor, or the
// empty string before it exists.
func (r *Room) MyselfActorID() string {
	doc := r.Actors.First(func(d *models.Document[models.Actor]) bool {
		return d.Data.Type == models.ActorUser && d.Owner != nil && *d.Owner == r.join.UserID
	})
	if doc == nil {
		return ""
	}
	return doc.ID
}

// ListKind identifies one mirror for the generic List dispatch. Several
// kinds alias the scene-object mirror, filtered by object type.
type ListKind string

const (
	ListChat              ListKind = "chat"
	ListChatTab           ListKind = "chat-tab"
	ListGroupChatTab      ListKind = "group-chat-tab"
	ListScene             ListKind = "scene"
	ListCutIn             ListKind = "cut-in"
	ListMedia             ListKind = "media"
	ListUser              ListKind = "user"
	ListSocketUser        ListKind = "socket-user"
	ListActor             ListKind = "actor"
	ListActorStatus       ListKind = "actor-status"
	ListActorGroup        ListKind = "actor-group"
	ListPropertyFace      ListKind = "property-face"
	ListProperty          ListKind = "property"
	ListPropertySelection ListKind = "property-selection"
	ListTagNote           ListKind = "tag-note"
	ListSceneLayer        ListKind = "scene-layer"
	ListSceneAndLayer     ListKind = "scene-and-layer"
	ListSceneObject       ListKind = "scene-object"
	ListSceneAndObject    ListKind = "scene-and-object"
	ListCardMeta          ListKind = "card-meta"
	ListCardObject        ListKind = "card-object"
	ListCardDeckBig       ListKind = "card-deck-big"
	ListCardDeckSmall     ListKind = "card-deck-small"

	// Aliases over the scene-object mirror.
	ListCharacter  ListKind = "character"
	ListMapMask    ListKind = "map-mask"
	ListChit       ListKind = "chit"
	ListFloorTile  ListKind = "floor-tile"
	ListDiceSymbol ListKind = "dice-symbol"
)

// List returns the documents behind a kind. The element type depends on the
// kind, so the result is returned as a plain value to be type-asserted by
// the caller; typed access goes through the exported mirror fields instead.
func (r *Room) List(kind ListKind) (any, error) {
	if err := r.requireInitialized(); err != nil {
		return nil, err
	}
	switch kind {
	case ListChat:
		return r.Chats.All(), nil
	case ListChatTab:
		return r.ChatTabs.All(), nil
	case ListGroupChatTab:
		return r.GroupChatTabs.All(), nil
	case ListScene:
		return r.Scenes.All(), nil
	case ListCutIn:
		return r.CutIns.All(), nil
	case ListMedia:
		return r.Medias.All(), nil
	case ListUser:
		return r.Users.All(), nil
	case ListSocketUser:
		return r.SocketUsers.All(), nil
	case ListActor:
		return r.Actors.All(), nil
	case ListActorStatus:
		return r.ActorStatuses.All(), nil
	case ListActorGroup:
		return r.ActorGroups.All(), nil
	case ListPropertyFace:
		return r.PropertyFaces.All(), nil
	case ListProperty:
		return r.Properties.All(), nil
	case ListPropertySelection:
		return r.PropertySelections.All(), nil
	case ListTagNote:
		return r.TagNotes.All(), nil
	case ListSceneLayer:
		return r.SceneLayers.All(), nil
	case ListSceneAndLayer:
		return r.SceneAndLayers.All(), nil
	case ListSceneObject:
		return r.SceneObjects.All(), nil
	case ListSceneAndObject:
		return r.SceneAndObjects.All(), nil
	case ListCardMeta:
		return r.CardMetas.All(), nil
	case ListCardObject:
		return r.CardObjects.All(), nil
	case ListCardDeckBig:
		return r.CardDeckBigs.All(), nil
	case ListCardDeckSmall:
		return r.CardDeckSmalls.All(), nil
	case ListCharacter, ListMapMask, ListChit, ListFloorTile, ListDiceSymbol:
		t := models.SceneObjectType(kind)
		return r.SceneObjects.Find(func(d *models.Document[models.SceneObject]) bool {
			return d.Data.Type == t
		}), nil
	default:
		return nil, fmt.Errorf("unknown list kind %q", kind)
	}
}
