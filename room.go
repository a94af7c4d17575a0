package roomsync

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/tablekit/roomsync/pkg/connection"
	"github.com/tablekit/roomsync/pkg/constants"
	"github.com/tablekit/roomsync/pkg/models"
)

// Server-side collection names.
const (
	colChat              = "chat-list"
	colChatTab           = "chat-tab-list"
	colGroupChatTab      = "group-chat-tab-list"
	colScene             = "scene-list"
	colCutIn             = "cut-in-list"
	colMedia             = "media-list"
	colUser              = "user-list"
	colSocketUser        = "socket-user-list"
	colActor             = "actor-list"
	colActorStatus       = "actor-status-list"
	colActorGroup        = "actor-group-list"
	colPropertyFace      = "property-face-list"
	colProperty          = "property-list"
	colPropertySelection = "property-selection-list"
	colTagNote           = "tag-note-list"
	colSceneLayer        = "scene-layer-list"
	colSceneAndLayer     = "scene-and-layer-list"
	colSceneObject       = "scene-object-list"
	colSceneAndObject    = "scene-and-object-list"
	colCardMeta          = "card-meta-list"
	colCardObject        = "card-object-list"
	colCardDeckBig       = "card-deck-big-list"
	colCardDeckSmall     = "card-deck-small-list"
	colRoomData          = "room-data"
)

// JoinInfo carries the per-session facts the aggregator cannot derive from
// the store: who we are and which dice back end the room talks to.
type JoinInfo struct {
	UserID    string
	System    string
	BcdiceURL string
}

// ChatFormat is one entry of the static chat-format definition list.
type ChatFormat struct {
	Label    string `yaml:"label"`
	ChatText string `yaml:"chatText"`
}

// ChatPublicInfo is the chat pane's shared selection state, seeded at init
// from the system tabs.
type ChatPublicInfo struct {
	IsUseAllTab bool
	ActorID     string
	TabID       string
	TargetID    string
	System      string
	BcdiceURL   string
}

// Room composes the room's collections into one consistent in-memory
// snapshot, live-patched by server push. One Room per session: construct on
// join, Init once, Close on leave.
type Room struct {
	channel *connection.Channel
	logger  zerolog.Logger
	join    JoinInfo

	chatCC              *Collection[models.ChatMessage]
	chatTabCC           *Collection[models.ChatTab]
	groupChatTabCC      *Collection[models.GroupChatTab]
	sceneCC             *Collection[models.Scene]
	cutInCC             *Collection[models.CutIn]
	mediaCC             *Collection[models.Media]
	userCC              *Collection[models.User]
	socketUserCC        *Collection[models.SocketUser]
	actorCC             *Collection[models.Actor]
	actorStatusCC       *Collection[models.ActorStatus]
	actorGroupCC        *Collection[models.ActorGroup]
	propertyFaceCC      *Collection[models.PropertyFace]
	propertyCC          *Collection[models.Property]
	propertySelectionCC *Collection[models.PropertySelection]
	tagNoteCC           *Collection[models.TagNote]
	sceneLayerCC        *Collection[models.SceneLayer]
	sceneAndLayerCC     *Collection[models.SceneAndLayer]
	sceneObjectCC       *Collection[models.SceneObject]
	sceneAndObjectCC    *Collection[models.SceneAndObject]
	cardMetaCC          *Collection[models.CardMeta]
	cardObjectCC        *Collection[models.CardObject]
	cardDeckBigCC       *Collection[models.CardDeckBig]
	cardDeckSmallCC     *Collection[models.CardDeckSmall]
	roomDataCC          *Collection[models.RoomData]

	Chats              *Mirror[models.ChatMessage]
	ChatTabs           *Mirror[models.ChatTab]
	GroupChatTabs      *Mirror[models.GroupChatTab]
	Scenes             *Mirror[models.Scene]
	CutIns             *Mirror[models.CutIn]
	Medias             *Mirror[models.Media]
	Users              *Mirror[models.User]
	SocketUsers        *Mirror[models.SocketUser]
	Actors             *Mirror[models.Actor]
	ActorStatuses      *Mirror[models.ActorStatus]
	ActorGroups        *Mirror[models.ActorGroup]
	PropertyFaces      *Mirror[models.PropertyFace]
	Properties         *Mirror[models.Property]
	PropertySelections *Mirror[models.PropertySelection]
	TagNotes           *Mirror[models.TagNote]
	SceneLayers        *Mirror[models.SceneLayer]
	SceneAndLayers     *Mirror[models.SceneAndLayer]
	SceneObjects       *Mirror[models.SceneObject]
	SceneAndObjects    *Mirror[models.SceneAndObject]
	CardMetas          *Mirror[models.CardMeta]
	CardObjects        *Mirror[models.CardObject]
	CardDeckBigs       *Mirror[models.CardDeckBig]
	CardDeckSmalls     *Mirror[models.CardDeckSmall]

	roomDataID string
	dataMu     sync.RWMutex
	roomData   models.RoomData

	chatMu      sync.Mutex
	chatFormats []ChatFormat
	chatPublic  ChatPublicInfo

	initialized         atomic.Bool
	disposeRoomSnapshot func()
}

// NewRoom wires one controller per collection onto the shared channel. The
// mirrors stay nil until Init runs.
func NewRoom(channel *connection.Channel, logger zerolog.Logger, join JoinInfo) *Room {
	logger = logger.With().Str("component", "room").Logger()
	return &Room{
		channel: channel,
		logger:  logger,
		join:    join,

		chatCC:              NewCollection[models.ChatMessage](channel, colChat, logger),
		chatTabCC:           NewCollection[models.ChatTab](channel, colChatTab, logger),
		groupChatTabCC:      NewCollection[models.GroupChatTab](channel, colGroupChatTab, logger),
		sceneCC:             NewCollection[models.Scene](channel, colScene, logger),
		cutInCC:             NewCollection[models.CutIn](channel, colCutIn, logger),
		mediaCC:             NewCollection[models.Media](channel, colMedia, logger),
		userCC:              NewCollection[models.User](channel, colUser, logger),
		socketUserCC:        NewCollection[models.SocketUser](channel, colSocketUser, logger),
		actorCC:             NewCollection[models.Actor](channel, colActor, logger),
		actorStatusCC:       NewCollection[models.ActorStatus](channel, colActorStatus, logger),
		actorGroupCC:        NewCollection[models.ActorGroup](channel, colActorGroup, logger),
		propertyFaceCC:      NewCollection[models.PropertyFace](channel, colPropertyFace, logger),
		propertyCC:          NewCollection[models.Property](channel, colProperty, logger),
		propertySelectionCC: NewCollection[models.PropertySelection](channel, colPropertySelection, logger),
		tagNoteCC:           NewCollection[models.TagNote](channel, colTagNote, logger),
		sceneLayerCC:        NewCollection[models.SceneLayer](channel, colSceneLayer, logger),
		sceneAndLayerCC:     NewCollection[models.SceneAndLayer](channel, colSceneAndLayer, logger),
		sceneObjectCC:       NewCollection[models.SceneObject](channel, colSceneObject, logger),
		sceneAndObjectCC:    NewCollection[models.SceneAndObject](channel, colSceneAndObject, logger),
		cardMetaCC:          NewCollection[models.CardMeta](channel, colCardMeta, logger),
		cardObjectCC:        NewCollection[models.CardObject](channel, colCardObject, logger),
		cardDeckBigCC:       NewCollection[models.CardDeckBig](channel, colCardDeckBig, logger),
		cardDeckSmallCC:     NewCollection[models.CardDeckSmall](channel, colCardDeckSmall, logger),
		roomDataCC:          NewCollection[models.RoomData](channel, colRoomData, logger),

		roomData: models.DefaultRoomData(),
	}
}

// Init performs the bulk initial load: four sequential batches of parallel
// subscribed fetches, small-cardinality collections first so the UI can start
// rendering early while bounding peak in-flight requests. It then adopts the
// singleton room-settings document and installs its re-copy subscription.
func (r *Room) Init(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { r.SceneLayers, err = r.sceneLayerCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.Actors, err = r.actorCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.CardDeckBigs, err = r.cardDeckBigCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.CardDeckSmalls, err = r.cardDeckSmallCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.SceneAndLayers, err = r.sceneAndLayerCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.ActorStatuses, err = r.actorStatusCC.GetList(gctx, true, ""); return })
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) { r.PropertySelections, err = r.propertySelectionCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.ChatTabs, err = r.chatTabCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.GroupChatTabs, err = r.groupChatTabCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.Scenes, err = r.sceneCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.Users, err = r.userCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.CutIns, err = r.cutInCC.GetList(gctx, true, ""); return })
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) { r.SceneObjects, err = r.sceneObjectCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.SocketUsers, err = r.socketUserCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.PropertyFaces, err = r.propertyFaceCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.Properties, err = r.propertyCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.ActorGroups, err = r.actorGroupCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.TagNotes, err = r.tagNoteCC.GetList(gctx, true, ""); return })
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) { r.Chats, err = r.chatCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.Medias, err = r.mediaCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.SceneAndObjects, err = r.sceneAndObjectCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.CardMetas, err = r.cardMetaCC.GetList(gctx, true, ""); return })
	g.Go(func() (err error) { r.CardObjects, err = r.cardObjectCC.GetList(gctx, true, ""); return })
	if err := g.Wait(); err != nil {
		return err
	}

	if err := r.adoptRoomData(ctx); err != nil {
		return err
	}

	r.seedChatPublicInfo()
	r.initialized.Store(true)
	r.logger.Info().Str("room", r.RoomData().Name).Msg("room initialized")
	return nil
}

// adoptRoomData fetches the singleton room-settings document (not part of
// the mirrors), copies its allow-listed fields and installs a document-level
// subscription that re-applies the same copy on every modified push.
func (r *Room) adoptRoomData(ctx context.Context) error {
	list, err := r.roomDataCC.GetList(ctx, false, "")
	if err != nil {
		return err
	}
	docs := list.All()
	if len(docs) == 0 {
		return &SystemError{Message: "room data document is missing"}
	}
	doc := docs[0]
	r.roomDataID = doc.ID

	r.dataMu.Lock()
	r.roomData.Name = doc.Data.Name
	r.roomData.SceneID = doc.Data.SceneID
	copySettings(&doc.Data.Settings, &r.roomData.Settings)
	r.dataMu.Unlock()

	dispose, err := r.roomDataCC.SetSnapshot(ctx, "room", r.roomDataID, func(snap models.Snapshot[models.RoomData]) {
		if !snap.Exists || snap.Data == nil || snap.Data.Status != models.StatusModified || snap.Data.Data == nil {
			return
		}
		r.dataMu.Lock()
		r.roomData.SceneID = snap.Data.Data.SceneID
		copySettings(&snap.Data.Data.Settings, &r.roomData.Settings)
		r.dataMu.Unlock()
	})
	if err != nil {
		return err
	}
	r.disposeRoomSnapshot = dispose
	return nil
}

// copySettings adopts remote settings field by field. Every field is named
// explicitly so unknown remote fields are never adopted.
func copySettings(from, to *models.RoomSettings) {
	to.Visitable = from.Visitable
	to.IsFitGrid = from.IsFitGrid
	to.IsViewDice = from.IsViewDice
	to.IsViewCutIn = from.IsViewCutIn
	to.IsDrawGridID = from.IsDrawGridID
	to.MapRotatable = from.MapRotatable
	to.IsDrawGridLine = from.IsDrawGridLine
	to.IsShowStandImage = from.IsShowStandImage
	to.IsShowRotateMarker = from.IsShowRotateMarker
	to.WindowSettings.Chat = from.WindowSettings.Chat
	to.WindowSettings.Resource = from.WindowSettings.Resource
	to.WindowSettings.Initiative = from.WindowSettings.Initiative
	to.WindowSettings.ChatPalette = from.WindowSettings.ChatPalette
	to.WindowSettings.CounterRemocon = from.WindowSettings.CounterRemocon
}

func (r *Room) seedChatPublicInfo() {
	r.chatMu.Lock()
	defer r.chatMu.Unlock()

	r.chatPublic.System = r.join.System
	r.chatPublic.BcdiceURL = r.join.BcdiceURL
	if tab := r.ChatTabs.First(func(d *models.Document[models.ChatTab]) bool { return d.Data.IsSystem }); tab != nil {
		r.chatPublic.TabID = tab.ID
	}
	if tab := r.GroupChatTabs.First(func(d *models.Document[models.GroupChatTab]) bool { return d.Data.IsSystem }); tab != nil {
		r.chatPublic.TargetID = tab.ID
	}
	if actor := r.Actors.First(func(d *models.Document[models.Actor]) bool {
		return d.Data.Type == models.ActorUser && d.Owner != nil && *d.Owner == r.join.UserID
	}); actor != nil {
		r.chatPublic.ActorID = actor.ID
	}
}

// RoomData returns a copy of the local settings struct.
func (r *Room) RoomData() models.RoomData {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	return r.roomData
}

// ChatPublic returns the chat pane's shared selection state.
func (r *Room) ChatPublic() ChatPublicInfo {
	r.chatMu.Lock()
	defer r.chatMu.Unlock()
	return r.chatPublic
}

// LoadChatFormats appends the static chat-format definition list from a YAML
// file. Loaded once at startup; a missing file is an error, not a default.
func (r *Room) LoadChatFormats(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var list []ChatFormat
	if err := yaml.Unmarshal(data, &list); err != nil {
		return err
	}
	r.chatMu.Lock()
	r.chatFormats = append(r.chatFormats, list...)
	r.chatMu.Unlock()
	return nil
}

// ChatFormats returns the loaded chat-format definitions.
func (r *Room) ChatFormats() []ChatFormat {
	r.chatMu.Lock()
	defer r.chatMu.Unlock()
	out := make([]ChatFormat, len(r.chatFormats))
	copy(out, r.chatFormats)
	return out
}

func (r *Room) requireInitialized() error {
	if !r.initialized.Load() {
		return &ApplicationError{Message: "room state is not loaded", Err: constants.ErrNotInitialized}
	}
	return nil
}

// controllers lists every controller for serial teardown.
func (r *Room) controllers() []interface{ Destroy(context.Context) } {
	return []interface{ Destroy(context.Context) }{
		r.chatCC, r.chatTabCC, r.groupChatTabCC, r.sceneCC, r.cutInCC,
		r.mediaCC, r.userCC, r.socketUserCC, r.actorCC, r.actorStatusCC,
		r.actorGroupCC, r.propertyFaceCC, r.propertyCC, r.propertySelectionCC,
		r.tagNoteCC, r.sceneLayerCC, r.sceneAndLayerCC, r.sceneObjectCC,
		r.sceneAndObjectCC, r.cardMetaCC, r.cardObjectCC, r.cardDeckBigCC,
		r.cardDeckSmallCC, r.roomDataCC,
	}
}

// Close tears the session down: every controller is destroyed serially (each
// drains its subscriptions and held locks), then the channel is closed.
func (r *Room) Close(ctx context.Context) error {
	if r.disposeRoomSnapshot != nil {
		r.disposeRoomSnapshot()
	}
	for _, cc := range r.controllers() {
		cc.Destroy(ctx)
	}
	r.initialized.Store(false)
	return r.channel.Close(ctx)
}
